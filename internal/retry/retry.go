// Package retry reissues failed upstream calls with exponential
// backoff and jitter. The proxy uses it for transport-level failures
// where no response reached the gateway.
package retry

import (
	"context"
	"time"
)

const (
	defaultMaxRetries     = 2
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultJitterFactor   = 0.25
)

// Config bounds the retry loop. Zero fields fall back to the package
// defaults, so a nil Config is usable.
type Config struct {
	// MaxRetries is how many times a failed call is reissued after the
	// initial attempt.
	MaxRetries int

	// InitialBackoff is the delay before the first retry. Each further
	// retry doubles it.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-retry delay, jitter included.
	MaxBackoff time.Duration

	// JitterFactor is the fraction of the delay added as random
	// jitter, clamped to [0, 1].
	JitterFactor float64
}

// DefaultConfig returns the retry configuration used when none is
// given.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		JitterFactor:   defaultJitterFactor,
	}
}

// effective returns a copy with defaults and clamps applied.
func (c *Config) effective() Config {
	eff := Config{
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		JitterFactor:   defaultJitterFactor,
	}
	if c == nil {
		return eff
	}
	if c.MaxRetries > 0 {
		eff.MaxRetries = c.MaxRetries
	}
	if c.InitialBackoff > 0 {
		eff.InitialBackoff = c.InitialBackoff
	}
	if c.MaxBackoff > 0 {
		eff.MaxBackoff = c.MaxBackoff
	}
	if c.JitterFactor > 0 {
		eff.JitterFactor = c.JitterFactor
		if eff.JitterFactor > 1 {
			eff.JitterFactor = 1
		}
	}
	return eff
}

// CheckFunc reports whether a failure is worth retrying.
type CheckFunc func(error) bool

// HookFunc observes a scheduled retry before its backoff sleep.
type HookFunc func(retryNumber int, err error, delay time.Duration)

type settings struct {
	check CheckFunc
	hook  HookFunc
}

// Option customizes one Do invocation.
type Option func(*settings)

// WithCheck restricts retries to failures the check accepts. Without
// it every failure is retried.
func WithCheck(check CheckFunc) Option {
	return func(s *settings) {
		s.check = check
	}
}

// WithHook registers an observer called before each backoff sleep.
func WithHook(hook HookFunc) Option {
	return func(s *settings) {
		s.hook = hook
	}
}

// Do runs fn, reissuing it on failure until it succeeds, the check
// rejects the error, the retry budget is spent, or ctx ends. The last
// failure is returned.
func Do(ctx context.Context, cfg *Config, fn func() error, opts ...Option) error {
	eff := cfg.effective()

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		if s.check != nil && !s.check(err) {
			return err
		}
		if n >= eff.MaxRetries {
			return err
		}

		delay := Backoff(n, eff.InitialBackoff, eff.MaxBackoff, eff.JitterFactor)
		if s.hook != nil {
			s.hook(n+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
