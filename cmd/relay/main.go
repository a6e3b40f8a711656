// Package main is the entry point for the placement relay service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/placeflow/relay/internal/auth"
	"github.com/placeflow/relay/internal/config"
	"github.com/placeflow/relay/internal/forward"
	"github.com/placeflow/relay/internal/graph"
	"github.com/placeflow/relay/internal/resolve"
	"github.com/placeflow/relay/internal/server"
	"github.com/placeflow/relay/internal/submit"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if !cfg.AuthConfigured() {
		slog.Error("identity platform not configured: AUTH_TENANT_ID, AUTH_CLIENT_ID, AUTH_SUBMISSION_SCOPES and AUTH_MAILBOX_SCOPES are required")
		os.Exit(1)
	}
	if !cfg.SubmissionConfigured() {
		slog.Error("submission API not configured: SUBMISSION_BASE_URL and SUBMISSION_SUBSCRIPTION_KEY are required")
		os.Exit(1)
	}

	// Wire the pipeline: identity -> broker -> mailbox client -> resolver
	// -> forwarding engine -> orchestrator.
	idp := auth.NewClient(cfg.Auth.TenantID, cfg.Auth.ClientID, nil)
	idp.SeedSession(cfg.Auth.Account, cfg.Auth.RefreshToken)

	broker := auth.NewBroker(idp, cfg.Auth.Account, cfg.Auth.SubmissionScopes, cfg.Auth.MailboxScopes)

	mailbox := graph.NewClient(cfg.Graph.BaseURL, nil)
	resolver := resolve.New(mailbox)
	engine := forward.New(mailbox, resolver)

	submissionClient := submit.NewClient(cfg.Submission.BaseURL, cfg.Submission.SubscriptionKey, nil)
	orchestrator := submit.NewOrchestrator(broker, submissionClient, engine, resolver, cfg.Forwarding.SharedMailbox)

	srv := server.New(server.ServerConfig{
		ListenAddr:   cfg.HTTP.Listen,
		Orchestrator: orchestrator,
	})

	slog.Info("starting placement relay",
		"listen", cfg.HTTP.Listen,
		"shared_mailbox", cfg.Forwarding.SharedMailbox,
		"account", cfg.Auth.Account,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Warm both token caches in one session so at most one interactive
	// prompt is needed at startup.
	if err := broker.AcquireBoth(ctx); err != nil {
		slog.Warn("token warm-up failed, will retry per request", "error", err)
	}

	// Start the server (blocks until context is cancelled)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("placement relay stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
