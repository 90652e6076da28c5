package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix     = "pixelopt:job:"
	maxUpdateRetries = 5
)

// RedisJobStore shares job records between the API and worker processes.
type RedisJobStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisJobStore(client redis.UniversalClient, ttl time.Duration) *RedisJobStore {
	return &RedisJobStore{client: client, ttl: ttl}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *RedisJobStore) Create(ctx context.Context, job domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, jobKey(job.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	raw, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("load job %s: %w", id, err)
	}

	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.Job{}, false, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, true, nil
}

// Update runs an optimistic WATCH/MULTI transaction, retrying when another writer raced it.
func (s *RedisJobStore) Update(ctx context.Context, id string, mutate func(*domain.Job)) (domain.Job, error) {
	key := jobKey(id)
	var updated domain.Job

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		var job domain.Job
		if err := json.Unmarshal(raw, &job); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		mutate(&job)
		job.UpdatedAt = time.Now().UTC()

		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				return domain.Job{}, err
			}
			return domain.Job{}, fmt.Errorf("update job %s: %w", id, err)
		}
		return updated, nil
	}
	return domain.Job{}, fmt.Errorf("update job %s: too much contention", id)
}
