package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/pixelopt/internal/domain"
)

type memoryEntry struct {
	job       domain.Job
	expiresAt time.Time
}

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]memoryEntry
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]memoryEntry),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpired(now)
	s.jobs[job.ID] = memoryEntry{job: job, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[id]
	if !ok || !s.now().Before(e.expiresAt) {
		return domain.Job{}, false, nil
	}
	return e.job, true, nil
}

func (s *MemoryJobStore) Update(_ context.Context, id string, mutate func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.jobs[id]
	if !ok || !now.Before(e.expiresAt) {
		return domain.Job{}, ErrJobNotFound
	}

	mutate(&e.job)
	e.job.UpdatedAt = now.UTC()
	e.expiresAt = now.Add(s.ttl)
	s.jobs[id] = e
	return e.job, nil
}

func (s *MemoryJobStore) evictExpired(now time.Time) {
	for id, e := range s.jobs {
		if !now.Before(e.expiresAt) {
			delete(s.jobs, id)
		}
	}
}
