package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/hanna4328/chat-bot/internal/audit"
	"github.com/hanna4328/chat-bot/internal/config"
	"github.com/hanna4328/chat-bot/internal/database"
	"github.com/hanna4328/chat-bot/internal/handlers"
	"github.com/hanna4328/chat-bot/internal/logging"
	"github.com/hanna4328/chat-bot/internal/middleware"
	"github.com/hanna4328/chat-bot/internal/router"
	"github.com/hanna4328/chat-bot/internal/services"
	"github.com/hanna4328/chat-bot/internal/telemetry"
)

const defaultGeminiHost = "generativelanguage.googleapis.com"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", logging.Err(err))
		os.Exit(1)
	}
}

func run() error {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, logCloser, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logCloser.Close()
	cfg.LogDeprecations(logger)
	logger.Info("starting ONWARD proxy", "env", cfg.Env, "model", cfg.GeminiModel)

	if !cfg.HasCredential() {
		logger.Warn("no API key configured; generate requests will fail",
			"variable", config.CredentialKey)
	}

	// ──── Step 2: Telemetry ────
	if cfg.OTELEnabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.LogDir)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer shutdownTelemetry()
		logger.Info("telemetry enabled", "dir", cfg.LogDir)
	}

	// ──── Step 3: Audit Store ────
	auditStore, err := audit.Open(cfg.AuditDSN)
	if err != nil {
		return fmt.Errorf("failed to open audit store: %w", err)
	}

	var purger *audit.Purger
	if cfg.AuditDSN != "" && cfg.AuditRetentionDays > 0 {
		purger, err = audit.NewPurger(auditStore, time.Duration(cfg.AuditRetentionDays)*24*time.Hour, cfg.AuditPurgeSchedule)
		if err != nil {
			auditStore.Close()
			return err
		}
		purger.Start()
		logger.Info("audit purge scheduled", "schedule", cfg.AuditPurgeSchedule, "retention_days", cfg.AuditRetentionDays)
	}

	// ──── Step 4: Inbound Rate Limiter ────
	limiter, redisClient, err := newLimiter(cfg)
	if err != nil {
		auditStore.Close()
		return err
	}
	logger.Info("rate limiter ready", "backend", limiter.Backend(), "per_minute", cfg.RateLimitPerMin)

	// ──── Step 5: Gemini Services ────
	geminiService, err := services.NewGeminiService(services.GeminiOptions{
		APIKey:         cfg.GeminiAPIKey,
		BaseURL:        cfg.GeminiBaseURL,
		APIVersion:     cfg.GeminiAPIVersion,
		Model:          cfg.GeminiModel,
		Timeout:        cfg.GeminiTimeout,
		RequestsPerMin: cfg.GeminiRequestsPerMin,
		ConcurrentReqs: cfg.GeminiConcurrentReqs,
		Recorder:       auditStore,
	})
	if err != nil {
		auditStore.Close()
		return fmt.Errorf("gemini service initialization failed: %w", err)
	}
	catalog := services.NewModelCatalog(cfg.GeminiAPIKey, catalogEndpoint(cfg.GeminiBaseURL))

	// ──── Step 6: Start HTTP Server ────
	r := router.New(
		handlers.NewGenerateHandler(geminiService),
		handlers.NewModelHandler(catalog),
		limiter,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GeminiTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ONWARD proxy ready", "addr", "http://localhost:"+cfg.Port, "generate", "/api/generate")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var result *multierror.Error
	select {
	case err := <-serverErr:
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("server error: %w", err))
		}
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if purger != nil {
		purger.Stop()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("redis close: %w", err))
		}
	}
	if err := auditStore.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("audit close: %w", err))
	}

	return result.ErrorOrNil()
}

// newLimiter builds the inbound limiter. Only the selected backend is
// constructed, so the in-memory sweeper never runs alongside Redis.
func newLimiter(cfg *config.Config) (*middleware.RateLimiter, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return middleware.NewRateLimiter(cfg.RateLimitPerMin, time.Minute), nil, nil
	}
	client, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return middleware.NewRedisRateLimiter(client, cfg.RateLimitPerMin, time.Minute), client, nil
}

// catalogEndpoint maps an alternate REST base URL to the scheme://host form
// the SDK uses verbatim. The public endpoint maps to "" so the SDK default is used.
func catalogEndpoint(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || u.Hostname() == defaultGeminiHost {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
