package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"accesspay/config"
	"accesspay/core"
	"accesspay/core/events"
	"accesspay/gateway/middleware"
	"accesspay/gateway/routes"
	"accesspay/gateway/stream"
	"accesspay/observability/logging"
	"accesspay/observability/metrics"
	telemetry "accesspay/observability/otel"
	"accesspay/storage"
	"accesspay/storage/eventlog"
)

const serviceName = "accesspayd"

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	allowMigrate := fs.Bool("allow-migrate", false, "Start on a ledger with a mismatched schema version (manual migrations only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.New(logging.Options{
		Service:    serviceName,
		Env:        cfg.Environment,
		Level:      logging.ParseLevel(cfg.Logging.Level),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := storage.Open(cfg.Backend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	hub := stream.NewHub(0, logger)
	emitters := events.Multi{hub, metrics.Events()}
	var eventLog *eventlog.Log
	if strings.TrimSpace(cfg.EventLog.Driver) != "" {
		eventLog, err = eventlog.Open(cfg.EventLog.Driver, cfg.EventLog.DSN)
		if err != nil {
			return err
		}
		defer eventLog.Close()
		eventLog.SetLogger(logger)
		emitters = append(events.Multi{eventLog}, emitters...)
	}

	programs, err := cfg.ProgramAddresses()
	if err != nil {
		return err
	}
	treasury, err := cfg.TreasuryAddress()
	if err != nil {
		return err
	}
	node, err := core.NewNode(db, core.Options{
		Programs: programs,
		Treasury: treasury,
		Emitter:  emitters,
		Logger:   logger,
		Metrics:  metrics.Settlement(),

		AllowMigrate: *allowMigrate,
	})
	if err != nil {
		return err
	}
	if err := bootstrap(node, cfg, logger); err != nil {
		return err
	}

	routeCfg := routes.Config{
		Node:   node,
		Stream: hub,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.AuthSecret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: serviceName,
			LogRequests: true,
		}, logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
		Logger:      logger,
		ServiceName: serviceName,
	}
	if eventLog != nil {
		routeCfg.Events = eventLog
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           routes.New(routeCfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("addr", cfg.ListenAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	return nil
}

// bootstrap seeds collections, splits and, in dev, account balances from the
// configured manifest.
func bootstrap(node *core.Node, cfg *config.Config, logger *slog.Logger) error {
	if strings.TrimSpace(cfg.BootstrapFile) == "" {
		return nil
	}
	manifest, err := config.LoadManifest(cfg.BootstrapFile)
	if err != nil {
		return err
	}
	summary, err := node.Bootstrap(manifest, strings.EqualFold(cfg.Environment, "dev"))
	if err != nil {
		return fmt.Errorf("bootstrap %s: %w", cfg.BootstrapFile, err)
	}
	logger.Info("bootstrap applied",
		slog.String("file", cfg.BootstrapFile),
		slog.Int("collections", summary.Collections),
		slog.Int("splits", summary.Splits),
		slog.Int("accounts", summary.Accounts))
	return nil
}
