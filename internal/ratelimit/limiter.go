// Package ratelimit provides fixed-window rate limiting keyed by caller
// identity, with in-memory and Redis-backed implementations.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of a rate limit check. Limit, Remaining and
// ResetAt are populated on every check, including rejections, so they
// can be surfaced as response headers.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the maximum number of requests per window.
	Limit int

	// Remaining is the number of requests left in the current window.
	// Never negative.
	Remaining int

	// ResetAt is when the current window expires.
	ResetAt time.Time

	// RetryAfter is how long to wait before retrying; zero when allowed.
	RetryAfter time.Duration
}

// Limiter checks requests against a per-key fixed window.
type Limiter interface {
	// Check records a request for key and reports whether it is allowed.
	Check(ctx context.Context, key string) (*Result, error)

	// Reset clears the window for key.
	Reset(ctx context.Context, key string) error

	// Close releases limiter resources and stops background sweeps.
	Close() error
}

// Config holds limiter configuration.
type Config struct {
	// Window is the fixed window duration.
	Window time.Duration

	// Max is the maximum number of requests per key per window.
	Max int

	// SweepInterval is how often expired windows are purged. Zero
	// selects a default of one window length.
	SweepInterval time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Window: time.Minute,
		Max:    100,
	}
}

func (c *Config) sweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	if c.Window > 0 {
		return c.Window
	}
	return time.Minute
}
