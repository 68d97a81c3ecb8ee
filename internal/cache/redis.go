package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cellvista/gateway/internal/observability"
)

// RedisCache is a Redis-backed cache. Expiry is handled server-side by
// Redis TTLs.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    observability.Logger

	hits   int64
	misses int64
}

// NewRedisCache creates a Redis-backed cache using the shared client.
func NewRedisCache(client *redis.Client, keyPrefix string, logger observability.Logger) *RedisCache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if keyPrefix == "" {
		keyPrefix = "cache:"
	}
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	observeOperation("redis", "get", time.Since(start))

	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddInt64(&c.misses, 1)
			recordMiss("redis")
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	atomic.AddInt64(&c.hits, 1)
	recordHit("redis")
	return data, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err()
	observeOperation("redis", "set", time.Since(start))
	return err
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key).Err()
}

// Close implements Cache. The Redis client is shared and closed by its
// owner.
func (c *RedisCache) Close() error {
	return nil
}

// Stats implements WithStats. Size is not tracked for Redis.
func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}
