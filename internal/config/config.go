package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"

	"vetconsult/internal/prompt"
	"vetconsult/internal/upstream/openai"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type Config struct {
	ListenAddr              string
	Provider                openai.Kind
	Endpoint                string
	APIKey                  string
	APIVersion              string
	Deployment              string
	TranscriptionDeployment string
	MaxTokens               int
	Temperature             float32
	RequestTimeout          time.Duration
	DispatchTimeout         time.Duration
	TranscriptionTimeout    time.Duration
	MaxUploadBytes          int64
	CORSAllowedOrigins      []string
	AuthJWTSecret           string
	RedisURL                string
	CacheTTL                time.Duration
	DatabaseURL             string
	AuditRetention          time.Duration
	AuditPruneSchedule      string
	PromptOverrides         map[prompt.Action]string
	LogLevel                string
}

type envConfig struct {
	ListenAddr                  string   `env:"LISTEN_ADDR" envDefault:":8080"`
	Provider                    string   `env:"PROVIDER" envDefault:"azure"`
	Endpoint                    string   `env:"AZURE_OPENAI_ENDPOINT"`
	APIKey                      string   `env:"AZURE_OPENAI_KEY"`
	APIVersion                  string   `env:"AZURE_OPENAI_API_VERSION" envDefault:"2024-06-01"`
	Deployment                  string   `env:"AZURE_OPENAI_DEPLOYMENT_NAME"`
	TranscriptionDeployment     string   `env:"TRANSCRIPTION_DEPLOYMENT" envDefault:"whisper"`
	MaxTokens                   int      `env:"MAX_TOKENS" envDefault:"1000"`
	Temperature                 float32  `env:"TEMPERATURE" envDefault:"0.2"`
	RequestTimeoutSeconds       int      `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"60"`
	DispatchTimeoutSeconds      int      `env:"DISPATCH_TIMEOUT_SECONDS" envDefault:"55"`
	TranscriptionTimeoutSeconds int      `env:"TRANSCRIPTION_TIMEOUT_SECONDS" envDefault:"55"`
	MaxUploadBytes              int64    `env:"MAX_UPLOAD_BYTES" envDefault:"26214400"`
	CORSAllowedOrigins          []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	AuthJWTSecret               string   `env:"AUTH_JWT_SECRET"`
	RedisURL                    string   `env:"REDIS_URL"`
	CacheTTLSeconds             int      `env:"CACHE_TTL_SECONDS" envDefault:"3600"`
	DatabaseURL                 string   `env:"DATABASE_URL"`
	AuditRetentionDays          int      `env:"AUDIT_RETENTION_DAYS" envDefault:"90"`
	AuditPruneSchedule          string   `env:"AUDIT_PRUNE_SCHEDULE" envDefault:"@daily"`
	SOAPNotesPrompt             string   `env:"SOAP_NOTES_PROMPT"`
	AnalyzeVitalsPrompt         string   `env:"ANALYZE_VITALS_PROMPT"`
	AnalyzeChargesPrompt        string   `env:"ANALYZE_CHARGES_PROMPT"`
	AnalyzeDifferentialsPrompt  string   `env:"ANALYZE_DIFFERENTIALS_PROMPT"`
	ClientSummaryPrompt         string   `env:"CLIENT_SUMMARY_PROMPT"`
	LogLevel                    string   `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:              strings.TrimSpace(raw.ListenAddr),
		Provider:                openai.Kind(strings.ToLower(strings.TrimSpace(raw.Provider))),
		Endpoint:                strings.TrimRight(strings.TrimSpace(raw.Endpoint), "/"),
		APIKey:                  strings.TrimSpace(raw.APIKey),
		APIVersion:              strings.TrimSpace(raw.APIVersion),
		Deployment:              strings.TrimSpace(raw.Deployment),
		TranscriptionDeployment: strings.TrimSpace(raw.TranscriptionDeployment),
		MaxTokens:               raw.MaxTokens,
		Temperature:             raw.Temperature,
		RequestTimeout:          time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		DispatchTimeout:         time.Duration(raw.DispatchTimeoutSeconds) * time.Second,
		TranscriptionTimeout:    time.Duration(raw.TranscriptionTimeoutSeconds) * time.Second,
		MaxUploadBytes:          raw.MaxUploadBytes,
		CORSAllowedOrigins:      trimAll(raw.CORSAllowedOrigins),
		AuthJWTSecret:           strings.TrimSpace(raw.AuthJWTSecret),
		RedisURL:                strings.TrimSpace(raw.RedisURL),
		CacheTTL:                time.Duration(raw.CacheTTLSeconds) * time.Second,
		DatabaseURL:             strings.TrimSpace(raw.DatabaseURL),
		AuditRetention:          time.Duration(raw.AuditRetentionDays) * 24 * time.Hour,
		AuditPruneSchedule:      strings.TrimSpace(raw.AuditPruneSchedule),
		PromptOverrides: map[prompt.Action]string{
			prompt.ActionSOAPNotes:            raw.SOAPNotesPrompt,
			prompt.ActionAnalyzeVitals:        raw.AnalyzeVitalsPrompt,
			prompt.ActionAnalyzeCharges:       raw.AnalyzeChargesPrompt,
			prompt.ActionAnalyzeDifferentials: raw.AnalyzeDifferentialsPrompt,
			prompt.ActionClientSummary:        raw.ClientSummaryPrompt,
		},
		LogLevel: strings.ToLower(strings.TrimSpace(raw.LogLevel)),
	}
	if cfg.Provider == openai.KindOpenAI && cfg.Endpoint == "" {
		cfg.Endpoint = defaultOpenAIBaseURL
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	switch c.Provider {
	case openai.KindAzure, openai.KindOpenAI:
	default:
		return fmt.Errorf("PROVIDER must be %q or %q", openai.KindAzure, openai.KindOpenAI)
	}
	if c.Endpoint == "" {
		return errors.New("AZURE_OPENAI_ENDPOINT must not be empty")
	}
	if c.Deployment == "" {
		return errors.New("AZURE_OPENAI_DEPLOYMENT_NAME must not be empty")
	}
	if c.MaxTokens <= 0 {
		return errors.New("MAX_TOKENS must be > 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.New("TEMPERATURE must be between 0 and 2")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.DispatchTimeout <= 0 {
		return errors.New("DISPATCH_TIMEOUT_SECONDS must be > 0")
	}
	if c.TranscriptionTimeout <= 0 {
		return errors.New("TRANSCRIPTION_TIMEOUT_SECONDS must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.RedisURL != "" && c.CacheTTL <= 0 {
		return errors.New("CACHE_TTL_SECONDS must be > 0")
	}
	if c.DatabaseURL != "" && c.AuditRetention <= 0 {
		return errors.New("AUDIT_RETENTION_DAYS must be > 0")
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
