package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cellvista/gateway/internal/observability"
)

// cleanupInterval is how often expired entries are purged.
const cleanupInterval = time.Minute

// MemoryCache is an in-memory LRU cache with TTL expiry.
type MemoryCache struct {
	logger     observability.Logger
	maxEntries int

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	hits   int64
	misses int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates an in-memory cache holding at most maxEntries
// values and starts its cleanup goroutine.
func NewMemoryCache(maxEntries int, logger observability.Logger) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := &MemoryCache{
		logger:     logger,
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		stopCh:     make(chan struct{}),
	}

	go c.cleanupLoop()
	return c
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		recordMiss("memory")
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddInt64(&c.misses, 1)
		recordMiss("memory")
		return nil, ErrCacheMiss
	}

	c.eviction.MoveToFront(elem)
	atomic.AddInt64(&c.hits, 1)
	recordHit("memory")

	// Copy so callers cannot mutate the cached value.
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		entry := elem.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		c.eviction.MoveToFront(elem)
		return nil
	}

	elem := c.eviction.PushFront(&memoryEntry{key: key, value: stored, expiresAt: expiresAt})
	c.items[key] = elem

	for len(c.items) > c.maxEntries {
		oldest := c.eviction.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}

	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
	return nil
}

// Close implements Cache.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

// Stats implements WithStats.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	size := int64(len(c.items))
	c.mu.Unlock()
	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Size:   size,
	}
}

// removeElement is called with the mutex held.
func (c *MemoryCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(c.items, entry.key)
	c.eviction.Remove(elem)
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, elem := range c.items {
		entry := elem.Value.(*memoryEntry)
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			c.removeElement(elem)
		}
	}
}
