package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"go.opentelemetry.io/otel"

	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/store"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return exitConfig, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(strings.ToUpper(cfg.LogLevel))
	slog.SetDefault(logger)
	server.SetConfig(cfg)
	logger.Info("Starting GoChat relay", slog.Any("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return exitConfig, fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter(cfg.ServiceName))
	if err != nil {
		return exitConfig, fmt.Errorf("init metrics: %w", err)
	}

	httpStore := store.NewHTTPStore(cfg.StoreURL, cfg.StoreTimeout, logger)
	app := server.NewApp(ctx, cfg, httpStore, metrics, logger)

	if err := app.Run(ctx); err != nil {
		return exitRuntime, err
	}
	logger.Info("GoChat relay stopped")
	return exitOK, nil
}
