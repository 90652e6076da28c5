// Package ratelimit throttles upload and job submission per client.
package ratelimit

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter grants or refuses one request for subject, typically the client IP.
type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "anonymous"
	}
	return subject
}

// MemoryLimiter keeps one token bucket per subject in process memory. Buckets idle for longer
// than the refill window are dropped on the next sweep.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	lastGC  time.Time
	now     func() time.Time
}

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	perMinute = max(1, perMinute)
	return &MemoryLimiter{
		buckets: make(map[string]*memoryBucket),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		idle:    2 * time.Minute,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, subject string) (Decision, error) {
	subject = normalizeSubject(subject)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.collect(now)

	b, ok := m.buckets[subject]
	if !ok {
		b = &memoryBucket{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[subject] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}

	remaining := int64(math.Floor(b.limiter.TokensAt(now)))
	return Decision{Allowed: true, Remaining: max(0, remaining)}, nil
}

func (m *MemoryLimiter) collect(now time.Time) {
	if now.Sub(m.lastGC) < m.idle {
		return
	}
	m.lastGC = now
	for subject, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.idle {
			delete(m.buckets, subject)
		}
	}
}

// Unlimited never refuses.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true, Remaining: math.MaxInt64}, nil
}
