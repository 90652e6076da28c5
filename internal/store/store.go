// Package store keeps job status records and usage accounting.
package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelopt/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore holds ephemeral job records. Records expire with the files they describe.
type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	// Update applies mutate to the stored job and persists the result. UpdatedAt is set by the store.
	Update(ctx context.Context, id string, mutate func(*domain.Job)) (domain.Job, error)
}

// UsageRecorder persists one accounting row per successful optimization.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
}

// DiscardUsage drops usage rows when no database is configured.
type DiscardUsage struct{}

func (DiscardUsage) RecordUsage(context.Context, domain.UsageLog) error { return nil }
