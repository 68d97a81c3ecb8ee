package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cellvista/gateway/internal/observability"
)

// window tracks request counts for one key. The per-window mutex keeps
// read-modify-write atomic without a limiter-wide lock, so concurrent
// requests on different keys never contend.
type window struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
	swept   bool
}

// FixedWindowLimiter is an in-memory fixed-window limiter. Windows are
// created lazily on the first request for a key and replaced, not
// incremented, once their reset time passes. A background sweep purges
// expired windows to bound memory growth.
type FixedWindowLimiter struct {
	config  *Config
	logger  observability.Logger
	windows sync.Map

	stopCh  chan struct{}
	mu      sync.Mutex
	stopped bool
}

// NewFixedWindowLimiter creates an in-memory fixed-window limiter and
// starts its sweep goroutine.
func NewFixedWindowLimiter(config *Config, logger observability.Logger) *FixedWindowLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	l := &FixedWindowLimiter{
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	go l.sweepLoop()
	return l
}

// Check implements Limiter.
func (l *FixedWindowLimiter) Check(_ context.Context, key string) (*Result, error) {
	now := time.Now()

	var w *window
	for {
		value, _ := l.windows.LoadOrStore(key, &window{})
		w = value.(*window)
		w.mu.Lock()
		if !w.swept {
			break
		}
		// Lost the race with Sweep: this window is already gone from
		// the map, so counting on it would drop the request.
		w.mu.Unlock()
	}

	if w.resetAt.IsZero() || !now.Before(w.resetAt) {
		// First request in a window, or the previous window lapsed:
		// replace rather than increment the stale counter.
		w.count = 0
		w.resetAt = now.Add(l.config.Window)
	}
	w.count++
	count := w.count
	resetAt := w.resetAt
	w.mu.Unlock()

	allowed := count <= l.config.Max

	remaining := l.config.Max - count
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     l.config.Max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !allowed {
		result.RetryAfter = time.Until(resetAt)
		if result.RetryAfter < 0 {
			result.RetryAfter = 0
		}
	}

	recordCheck("memory", allowed)
	return result, nil
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(_ context.Context, key string) error {
	l.windows.Delete(key)
	return nil
}

// Close implements Limiter.
func (l *FixedWindowLimiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stopped {
		l.stopped = true
		close(l.stopCh)
	}
	return nil
}

func (l *FixedWindowLimiter) sweepLoop() {
	ticker := time.NewTicker(l.config.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stopCh:
			return
		}
	}
}

// Sweep removes expired windows. sync.Map.Range tolerates concurrent
// mutation, so the sweep is safe to run alongside request handling.
func (l *FixedWindowLimiter) Sweep() {
	now := time.Now()
	removed := 0

	l.windows.Range(func(key, value interface{}) bool {
		w := value.(*window)
		w.mu.Lock()
		if !w.resetAt.IsZero() && !now.Before(w.resetAt) {
			// Mark before deleting so a Check holding this pointer
			// retries on a fresh window instead of counting here.
			w.swept = true
			l.windows.Delete(key)
			removed++
		}
		w.mu.Unlock()
		return true
	})

	if removed > 0 {
		l.logger.Debug("rate limiter sweep",
			observability.Int("removed", removed),
		)
	}
}
