package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "pixelopt:ratelimit"

// tokenBucketScript refills and debits the bucket atomically. It returns
// {allowed, remaining, retry_after_ms}.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - ts) * refill_per_ms)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil((1 - tokens) / refill_per_ms)
end

redis.call("HSET", key, "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", key, ttl_ms)

return {allowed, math.floor(tokens), wait_ms}
`

// RedisLimiter shares one token bucket per subject across every API replica.
type RedisLimiter struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
	script      *redis.Script
}

func NewRedisLimiter(client redis.UniversalClient, perMinute int, keyPrefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if perMinute <= 0 {
		return nil, errors.New("rate limit must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}

	window := time.Minute
	return &RedisLimiter{
		client:      client,
		capacity:    int64(perMinute),
		refillPerMS: float64(perMinute) / float64(window.Milliseconds()),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
		script:      redis.NewScript(tokenBucketScript),
	}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, subject string) (Decision, error) {
	key := l.keyPrefix + ":" + normalizeSubject(subject)
	raw, err := l.script.Run(ctx, l.client, []string{key},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		l.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	return parseReply(raw)
}

func parseReply(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected token bucket reply %v", raw)
	}

	var parsed [3]int64
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return Decision{}, fmt.Errorf("token bucket reply field %d: %w", i, err)
		}
		parsed[i] = n
	}

	return Decision{
		Allowed:    parsed[0] == 1,
		Remaining:  parsed[1],
		RetryAfter: time.Duration(parsed[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
