package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelopt/internal/bootstrap"
	"github.com/dunamismax/pixelopt/internal/cleanup"
	"github.com/dunamismax/pixelopt/internal/config"
	"github.com/dunamismax/pixelopt/internal/logging"
	"github.com/dunamismax/pixelopt/internal/pipeline"
	"github.com/dunamismax/pixelopt/internal/service"
	"github.com/dunamismax/pixelopt/internal/telemetry"
	"github.com/dunamismax/pixelopt/internal/webhook"
	"github.com/dunamismax/pixelopt/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Logging, "worker")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, "worker", logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	if err := pipeline.Startup(); err != nil {
		return err
	}
	defer pipeline.Shutdown()

	files, err := bootstrap.FileStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(cfg.Queue.RedisOptions())
	defer rdb.Close()

	usage, closeUsage, err := bootstrap.UsageStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeUsage()

	srv, err := worker.NewServer(logger, cfg, worker.Deps{
		Optimizer: service.New(files, pipeline.NewProcessor(cfg.PresetTable())),
		Jobs:      bootstrap.JobStore(cfg, rdb),
		Usage:     usage,
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
		Janitor: cleanup.NewJanitor(files, cfg.Cleanup.MaxAge, logger),
	})
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Str("backend", pipeline.Backend).
		Msg("starting worker")

	return srv.Run(ctx)
}
