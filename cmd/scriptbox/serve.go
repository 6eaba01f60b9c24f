package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/scriptbox/internal/config"
	"github.com/jkaninda/scriptbox/internal/gateway/httpapi"
	"github.com/jkaninda/scriptbox/internal/history"
	"github.com/jkaninda/scriptbox/internal/janitor"
	"github.com/jkaninda/scriptbox/internal/observability"
	"github.com/jkaninda/scriptbox/internal/ratelimit"
	"github.com/jkaninda/scriptbox/internal/sandbox"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `scriptbox --config path` and `scriptbox serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen port (e.g. :8080)")
	}
}

// runServe starts Scriptbox in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("SCRIPTBOX_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Gateway.ListenAddr = servePort
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	if err := os.MkdirAll(cfg.ResolvedWorkDir(), 0750); err != nil {
		return err
	}

	// Observability (optional).
	obs, err := observability.New(cfg.Observability)
	if err != nil {
		return err
	}

	// Run history store (optional).
	var store *history.Store
	if cfg.Storage != nil {
		store, err = history.Open(history.Config{
			Driver: cfg.StorageDriverName(),
			Path:   cfg.DatabasePath(),
			DSN:    postgresDSN(cfg),
		}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	// Sandbox engine.
	engine := sandbox.New(sandbox.Config{
		WorkDir:          cfg.ResolvedWorkDir(),
		DefaultTimeout:   cfg.Sandbox.Timeout(),
		DefaultMaxMemory: cfg.Sandbox.MaxMemory(),
		PollInterval:     cfg.Sandbox.PollInterval(),
	}, logger)
	if obs != nil {
		engine.WithMetrics(obs.SandboxMetrics())
		if obs.TracerOrNil() != nil {
			engine.WithTracer(obs.TracerOrNil().Tracer())
		}
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Janitor (optional).
	if cfg.Janitor != nil && cfg.Janitor.Enabled {
		jan := janitor.New(cfg.ResolvedWorkDir(), cfg.Janitor.Retention(), store, logger)
		if err := jan.Start(cfg.Janitor.CronSchedule()); err != nil {
			return err
		}
		defer jan.Stop()
	}

	// HTTP gateway.
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Gateway.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Gateway.RateLimit.BurstSize,
	})

	// Build API key → user ID mapping from config + env override.
	apiKeys := cfg.Gateway.APIKeyUserMapping
	if apiKeys == nil {
		apiKeys = make(map[string]string)
	}
	if envKeys := os.Getenv("SCRIPTBOX_API_KEYS"); envKeys != "" {
		for _, entry := range strings.Split(envKeys, ",") {
			parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
			if len(parts) == 2 {
				apiKeys[parts[0]] = parts[1]
			}
		}
	}

	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Gateway.Addr(),
		EnableDocs:     cfg.Gateway.EnableDocs,
		APIKeys:        apiKeys,
		MaxRequestSize: cfg.Gateway.MaxRequestSize(),
		WorkDir:        cfg.ResolvedWorkDir(),
		MaxSourceBytes: cfg.Sandbox.SourceLimit(),
	}
	if obs != nil && obs.Registry != nil {
		gwCfg.MetricsRegistry = obs.Registry
		if cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
		}
	}

	gw := httpapi.NewGateway(gwCfg, engine, limiter, logger)
	if store != nil {
		gw.WithHistory(store)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}
	obs.Shutdown(shutdownCtx)

	return nil
}

func postgresDSN(cfg *config.Config) string {
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		return cfg.Storage.Postgres.DSN
	}
	return ""
}
