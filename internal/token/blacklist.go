package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist records revoked token IDs until their natural expiry.
// Implementations must be safe for concurrent use.
type Blacklist interface {
	// Add marks the token ID revoked for the given duration.
	Add(ctx context.Context, jti string, ttl time.Duration) error

	// Contains reports whether the token ID is revoked. An error means
	// the answer is unknown; callers must treat that as revoked.
	Contains(ctx context.Context, jti string) (bool, error)

	// Close releases blacklist resources.
	Close() error
}

const blacklistSweepInterval = time.Minute

// MemoryBlacklist is an in-memory blacklist with periodic expiry
// sweeping.
type MemoryBlacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryBlacklist creates a memory blacklist and starts its sweep
// loop.
func NewMemoryBlacklist() *MemoryBlacklist {
	b := &MemoryBlacklist{
		entries: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

// Add implements Blacklist.
func (b *MemoryBlacklist) Add(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.mu.Lock()
	b.entries[jti] = time.Now().Add(ttl)
	b.mu.Unlock()
	return nil
}

// Contains implements Blacklist.
func (b *MemoryBlacklist) Contains(_ context.Context, jti string) (bool, error) {
	b.mu.RLock()
	expiry, ok := b.entries[jti]
	b.mu.RUnlock()
	return ok && time.Now().Before(expiry), nil
}

func (b *MemoryBlacklist) sweepLoop() {
	ticker := time.NewTicker(blacklistSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for jti, expiry := range b.entries {
				if now.After(expiry) {
					delete(b.entries, jti)
				}
			}
			b.mu.Unlock()
		case <-b.stopCh:
			return
		}
	}
}

// Close implements Blacklist.
func (b *MemoryBlacklist) Close() error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	return nil
}

const blacklistKeyPrefix = "token:blacklist:"

// RedisBlacklist stores revoked token IDs in Redis with key TTLs, so
// revocation is shared across gateway instances.
type RedisBlacklist struct {
	client redis.UniversalClient
}

// NewRedisBlacklist creates a Redis-backed blacklist.
func NewRedisBlacklist(client redis.UniversalClient) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

// Add implements Blacklist.
func (b *RedisBlacklist) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := b.client.Set(ctx, blacklistKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// Contains implements Blacklist.
func (b *RedisBlacklist) Contains(ctx context.Context, jti string) (bool, error) {
	err := b.client.Get(ctx, blacklistKeyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return true, nil
}

// Close implements Blacklist. The client is shared and closed by its
// owner.
func (b *RedisBlacklist) Close() error {
	return nil
}
