// Package bootstrap builds the configured backends shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelopt/internal/config"
	"github.com/dunamismax/pixelopt/internal/ratelimit"
	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/dunamismax/pixelopt/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// FileStore opens the local directory or the MinIO bucket named by cfg.
func FileStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "minio":
		s, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint: cfg.Endpoint,
			Access:   cfg.AccessKey,
			Secret:   cfg.SecretKey,
			Bucket:   cfg.Bucket,
			UseSSL:   cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return storage.NewLocalStore(cfg.LocalDir)
	}
}

// JobStore keeps job records for api.job_ttl.
func JobStore(cfg config.Config, rdb redis.UniversalClient) store.JobStore {
	if cfg.API.JobStore == "redis" {
		return store.NewRedisJobStore(rdb, cfg.API.JobTTL)
	}
	return store.NewMemoryJobStore(cfg.API.JobTTL)
}

// UsageStore connects to Postgres when a DSN is configured. The returned close func is never nil.
func UsageStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (store.UsageRecorder, func() error, error) {
	if cfg.DSN == "" {
		logger.Info().Msg("usage logging disabled, no database dsn")
		return store.DiscardUsage{}, func() error { return nil }, nil
	}
	pg, err := store.NewPostgresUsageStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func Limiter(cfg config.LimitsConfig, rdb redis.UniversalClient) (ratelimit.Limiter, error) {
	switch cfg.RateLimitBackend {
	case "none":
		return ratelimit.Unlimited{}, nil
	case "redis":
		l, err := ratelimit.NewRedisLimiter(rdb, cfg.RateLimitPerMinute, "")
		if err != nil {
			return nil, fmt.Errorf("redis rate limiter: %w", err)
		}
		return l, nil
	default:
		return ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute), nil
	}
}
