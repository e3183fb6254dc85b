package config

import (
	"strings"
	"testing"
	"time"

	"vetconsult/internal/prompt"
	"vetconsult/internal/upstream/openai"
)

func TestLoadAzureDefaults(t *testing.T) {
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://vet.openai.azure.com/")
	t.Setenv("AZURE_OPENAI_KEY", " secret ")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT_NAME", "vet-gpt")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000, ,https://app.example")
	t.Setenv("CLIENT_SUMMARY_PROMPT", "Summarize for the owner.")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != openai.KindAzure {
		t.Fatalf("unexpected provider: %q", cfg.Provider)
	}
	if cfg.Endpoint != "https://vet.openai.azure.com" || cfg.APIKey != "secret" {
		t.Fatalf("unexpected endpoint/key: %q %q", cfg.Endpoint, cfg.APIKey)
	}
	if cfg.DispatchTimeout != 55*time.Second || cfg.MaxTokens != 1000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if strings.Join(cfg.CORSAllowedOrigins, "|") != "http://localhost:3000|https://app.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.PromptOverrides[prompt.ActionClientSummary] != "Summarize for the owner." {
		t.Fatalf("unexpected overrides: %v", cfg.PromptOverrides)
	}
	if cfg.AuditRetention != 90*24*time.Hour {
		t.Fatalf("unexpected retention: %s", cfg.AuditRetention)
	}
}

func TestLoadOpenAIDefaultsEndpoint(t *testing.T) {
	t.Setenv("PROVIDER", "OpenAI")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4o-mini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != openai.KindOpenAI || cfg.Endpoint != defaultOpenAIBaseURL {
		t.Fatalf("unexpected provider config: %q %q", cfg.Provider, cfg.Endpoint)
	}
}

func TestLoadRequiresDeployment(t *testing.T) {
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://vet.openai.azure.com")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT_NAME", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "AZURE_OPENAI_DEPLOYMENT_NAME") {
		t.Fatalf("expected deployment error, got %v", err)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Config{
		ListenAddr: ":8080",
		Provider:   "bedrock",
		Endpoint:   "http://x",
		Deployment: "d",
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "PROVIDER") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestValidateCacheTTLOnlyWhenRedisEnabled(t *testing.T) {
	cfg := Config{
		ListenAddr:           ":8080",
		Provider:             openai.KindAzure,
		Endpoint:             "http://x",
		Deployment:           "d",
		MaxTokens:            10,
		RequestTimeout:       time.Second,
		DispatchTimeout:      time.Second,
		TranscriptionTimeout: time.Second,
		MaxUploadBytes:       1,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	cfg.RedisURL = "redis://localhost:6379/0"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected CACHE_TTL_SECONDS error")
	}
}
