package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelopt/internal/api"
	"github.com/dunamismax/pixelopt/internal/bootstrap"
	"github.com/dunamismax/pixelopt/internal/cleanup"
	"github.com/dunamismax/pixelopt/internal/config"
	"github.com/dunamismax/pixelopt/internal/logging"
	"github.com/dunamismax/pixelopt/internal/pipeline"
	"github.com/dunamismax/pixelopt/internal/queue"
	"github.com/dunamismax/pixelopt/internal/service"
	"github.com/dunamismax/pixelopt/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Logging, "api")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api failed")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, "api", logger)
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

	limiter, err := bootstrap.Limiter(cfg.Limits, rdb)
	if err != nil {
		return err
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close")
		}
	}()

	janitor := cleanup.NewJanitor(files, cfg.Cleanup.MaxAge, logger)
	if cfg.Cleanup.OnStartup {
		if n, err := janitor.RunOnce(ctx); err != nil {
			logger.Warn().Err(err).Msg("startup cleanup failed")
		} else {
			logger.Info().Int("removed", n).Msg("startup cleanup")
		}
	}
	go janitor.Run(ctx, cfg.Cleanup.Interval)

	app := api.NewServer(logger, cfg, api.Deps{
		Files:   service.New(files, pipeline.NewProcessor(cfg.PresetTable())),
		Presets: cfg.PresetTable(),
		Jobs:    bootstrap.JobStore(cfg, rdb),
		Queue:   queueClient,
		Limiter: limiter,
		Janitor: janitor,
	})

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.API.RequestTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.API.Addr).
			Str("backend", pipeline.Backend).
			Str("storage", cfg.Storage.Driver).
			Str("rate_limit", cfg.Limits.RateLimitBackend).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
