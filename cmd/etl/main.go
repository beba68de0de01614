package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/hydro-forecast-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/hydro-forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/hydro-forecast-etl/internal/config"
	"github.com/couchcryptid/hydro-forecast-etl/internal/domain"
	"github.com/couchcryptid/hydro-forecast-etl/internal/observability"
	"github.com/couchcryptid/hydro-forecast-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	alerts, err := domain.NewAlertEngine(cfg.AlertTriggerPercent)
	if err != nil {
		logger.Error("invalid alert configuration", "error", err)
		os.Exit(1)
	}
	engine := domain.NewEngine(domain.NewCorrector(nil, logger), alerts, logger)
	logger.Info("forecast engine configured",
		"alert_trigger_percent", alerts.TriggerPercent(),
		"history_cache_size", cfg.HistoryCacheSize,
	)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(engine, cfg.HistoryCacheSize, logger, metrics)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Jobs already analyzed but not yet published are redelivered after restart.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("forecast pipeline stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down forecast service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
