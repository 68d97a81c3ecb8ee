package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cellvista/gateway/internal/observability"
)

// checkScript atomically increments the window counter, arming the
// expiry on first increment, and returns the count plus remaining TTL.
// KEYS[1] = window key, ARGV[1] = window in milliseconds.
var checkScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	return {count, ttl}
`)

// RedisLimiter is a fixed-window limiter backed by Redis, letting
// multiple gateway instances share counters. Redis expiry replaces the
// in-memory sweep.
type RedisLimiter struct {
	client *redis.Client
	config *Config
	prefix string
	logger observability.Logger
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, config *Config, prefix string, logger observability.Logger) *RedisLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisLimiter{
		client: client,
		config: config,
		prefix: prefix,
		logger: logger,
	}
}

// Check implements Limiter.
func (l *RedisLimiter) Check(ctx context.Context, key string) (*Result, error) {
	res, err := checkScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.config.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, err
	}

	count := int(res[0])
	ttl := time.Duration(res[1]) * time.Millisecond
	if ttl < 0 {
		ttl = l.config.Window
	}

	allowed := count <= l.config.Max

	remaining := l.config.Max - count
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     l.config.Max,
		Remaining: remaining,
		ResetAt:   time.Now().Add(ttl),
	}
	if !allowed {
		result.RetryAfter = ttl
	}

	recordCheck("redis", allowed)
	return result, nil
}

// Reset implements Limiter.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+key).Err()
}

// Close implements Limiter. The Redis client is shared and closed by
// its owner.
func (l *RedisLimiter) Close() error {
	return nil
}
