// Package cleanup expires stored originals and optimized outputs.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/rs/zerolog"
)

// Janitor deletes objects older than MaxAge. A single failed delete is logged and skipped.
type Janitor struct {
	store  storage.Store
	maxAge time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func NewJanitor(store storage.Store, maxAge time.Duration, logger zerolog.Logger) *Janitor {
	return &Janitor{
		store:  store,
		maxAge: maxAge,
		logger: logger.With().Str("subsystem", "cleanup").Logger(),
		now:    time.Now,
	}
}

// RunOnce performs one expiry sweep and returns how many objects were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.maxAge)
	return j.sweep(ctx, func(obj storage.Object) bool {
		return obj.ModTime.Before(cutoff)
	})
}

// PurgeAll removes every stored object regardless of age.
func (j *Janitor) PurgeAll(ctx context.Context) (int, error) {
	return j.sweep(ctx, func(storage.Object) bool { return true })
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error().Err(err).Msg("cleanup sweep failed")
			}
		}
	}
}

func (j *Janitor) sweep(ctx context.Context, expired func(storage.Object) bool) (int, error) {
	objects, err := j.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored files: %w", err)
	}

	removed := 0
	for _, obj := range objects {
		if !expired(obj) {
			continue
		}
		if err := j.store.Delete(ctx, obj.Key); err != nil {
			j.logger.Warn().Err(err).Str("key", obj.Key).Msg("delete stored file")
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Info().Int("removed", removed).Msg("cleaned up stored files")
	}
	return removed, nil
}
