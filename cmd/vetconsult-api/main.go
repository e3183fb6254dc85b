package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vetconsult/internal/audit"
	"vetconsult/internal/cache"
	"vetconsult/internal/config"
	"vetconsult/internal/dispatch"
	"vetconsult/internal/httpapi"
	"vetconsult/internal/observability"
	"vetconsult/internal/pipeline"
	"vetconsult/internal/prompt"
	"vetconsult/internal/transcription"
	"vetconsult/internal/upstream/openai"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	upstreamHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}
	upstreamClient := openai.New(openai.Provider{
		Kind:       cfg.Provider,
		BaseURL:    cfg.Endpoint,
		APIKey:     cfg.APIKey,
		APIVersion: cfg.APIVersion,
	}, upstreamHTTPClient, openai.WithObserver(metrics.ObserveUpstream))

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStartup()

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithObserver(metrics),
	}

	if cfg.RedisURL != "" {
		rdb, err := cache.Dial(startupCtx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
		dispatchOpts = append(dispatchOpts, dispatch.WithCache(cache.NewRedis(rdb, cfg.CacheTTL)))
		logger.Info("result cache enabled", "ttl", cfg.CacheTTL)
	}

	var (
		auditReader httpapi.AuditReader
		pruner      *audit.Pruner
	)
	if cfg.DatabaseURL != "" {
		pool, err := audit.Open(startupCtx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("audit database unavailable", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := audit.NewStore(pool)
		if err := store.EnsureSchema(startupCtx); err != nil {
			logger.Error("audit schema setup failed", "error", err)
			os.Exit(1)
		}
		pruner = audit.NewPruner(store, cfg.AuditRetention, logger)
		if err := pruner.Schedule(cfg.AuditPruneSchedule); err != nil {
			logger.Error("invalid audit prune schedule", "schedule", cfg.AuditPruneSchedule, "error", err)
			os.Exit(1)
		}
		pruner.Start()

		dispatchOpts = append(dispatchOpts, dispatch.WithRecorder(store))
		auditReader = store
		logger.Info("audit ledger enabled", "retention", cfg.AuditRetention, "schedule", cfg.AuditPruneSchedule)
	}

	catalog := prompt.DefaultCatalog().WithOverrides(cfg.PromptOverrides)
	dispatchService := dispatch.New(upstreamClient, catalog, dispatch.Settings{
		DefaultModel: cfg.Deployment,
		Timeout:      cfg.DispatchTimeout,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
	}, dispatchOpts...)
	transcriptionService := transcription.New(upstreamClient, cfg.TranscriptionDeployment, cfg.TranscriptionTimeout)
	pipelineService := pipeline.New(transcriptionService, dispatchService)

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Dispatch:       dispatchService,
		Transcription:  transcriptionService,
		Pipeline:       pipelineService,
		Upstream:       upstreamClient,
		Audit:          auditReader,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.RequestTimeout,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr, "provider", cfg.Provider, "deployment", cfg.Deployment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	if pruner != nil {
		pruner.Stop(shutdownCtx)
	}
	logger.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
