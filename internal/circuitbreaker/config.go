// Package circuitbreaker implements the circuit breaker pattern for
// backend service calls, preventing cascading failures.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the
	// circuit regardless of the failure ratio.
	MaxFailures int

	// FailureRatio is the failure ratio threshold (0.0 to 1.0) over the
	// sampling window that opens the circuit.
	FailureRatio float64

	// MinRequests is the minimum number of requests in the sampling
	// window before FailureRatio is evaluated.
	MinRequests int

	// ResetTimeout is how long the circuit stays open before a trial
	// call is allowed.
	ResetTimeout time.Duration

	// CallTimeout is the hard per-call timeout. A call exceeding it is
	// recorded as a failure.
	CallTimeout time.Duration

	// SamplingDuration bounds the rolling window over which failures
	// are counted while closed.
	SamplingDuration time.Duration

	// IsSuccessful classifies a call result. When nil, any non-nil
	// error counts as a failure. Client errors (4xx-equivalent) should
	// be classified as successes so user mistakes never trip the
	// breaker.
	IsSuccessful func(err error) bool

	// OnStateChange is invoked after every state transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:      5,
		FailureRatio:     0.5,
		MinRequests:      5,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      10 * time.Second,
		SamplingDuration: time.Minute,
	}
}

// Validate normalizes out-of-range values to their defaults.
func (c *Config) Validate() {
	if c.MaxFailures < 1 {
		c.MaxFailures = 5
	}
	if c.FailureRatio < 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.5
	}
	if c.MinRequests < 1 {
		c.MinRequests = 5
	}
	if c.ResetTimeout < time.Millisecond {
		c.ResetTimeout = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.SamplingDuration < time.Second {
		c.SamplingDuration = time.Minute
	}
}
