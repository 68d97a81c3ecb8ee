package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cellvista/gateway/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls pass through.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls fail fast.
	StateOpen

	// StateHalfOpen indicates a single trial call is probing the backend.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker wraps calls to a single backend service with
// CLOSED/OPEN/HALF_OPEN state tracking. All state is guarded by the
// breaker's own mutex; the lock is never held across the wrapped call.
type CircuitBreaker struct {
	name   string
	config *Config
	logger observability.Logger

	mu    sync.Mutex
	state State

	failures      int
	successes     int
	consecFails   int
	totalRequests int

	trialInFlight bool

	lastOpenedAt  time.Time
	samplingStart time.Time
}

// New creates a circuit breaker for the named service.
func New(name string, config *Config, logger observability.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	if logger == nil {
		logger = observability.NopLogger()
	}

	return &CircuitBreaker{
		name:          name,
		config:        config,
		logger:        logger,
		state:         StateClosed,
		samplingStart: time.Now(),
	}
}

// Execute runs fn under breaker protection with the configured per-call
// timeout. When the circuit is open the call fails fast with
// ErrCircuitOpen and fn is never invoked. A call outliving the timeout
// is recorded as a failure and reported as context.DeadlineExceeded,
// without waiting for the slow call to finish.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, allowed := cb.allow()
	if !allowed {
		recordRejection(cb.name)
		return ErrCircuitOpen
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if cb.config.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cb.config.CallTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		// The timeout race always wins over a slow in-flight call. The
		// context cancellation tears down the underlying connection
		// best-effort; the goroutine drains into the buffered channel.
		err = callCtx.Err()
	}

	if cb.isSuccessful(err) {
		cb.recordSuccess(trial)
	} else {
		cb.recordFailure(trial)
	}

	return err
}

// ExecuteWithFallback runs fn under breaker protection and invokes
// fallback when the circuit rejects the call.
func (cb *CircuitBreaker) ExecuteWithFallback(
	ctx context.Context,
	fn func(ctx context.Context) error,
	fallback func(err error) error,
) error {
	err := cb.Execute(ctx, fn)
	if errors.Is(err, ErrCircuitOpen) {
		return fallback(err)
	}
	return err
}

// allow decides whether a call may proceed. The second return value is
// false when the call is rejected; the first is true when the call is
// the half-open trial.
func (cb *CircuitBreaker) allow() (trial, allowed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, true

	case StateOpen:
		if time.Since(cb.lastOpenedAt) >= cb.config.ResetTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.trialInFlight = true
			return true, true
		}
		return false, false

	case StateHalfOpen:
		// Exactly one trial call probes the backend.
		if cb.trialInFlight {
			return false, false
		}
		cb.trialInFlight = true
		return true, true

	default:
		return false, false
	}
}

// RecordSuccess records a successful call made outside Execute.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.recordSuccess(false)
}

// RecordFailure records a failed call made outside Execute.
func (cb *CircuitBreaker) RecordFailure() {
	cb.recordFailure(false)
}

func (cb *CircuitBreaker) recordSuccess(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.consecFails = 0
	cb.totalRequests++
	recordSuccess(cb.name)

	switch cb.state {
	case StateHalfOpen:
		if trial {
			cb.transitionTo(StateClosed)
		}
	case StateClosed:
		if time.Since(cb.samplingStart) >= cb.config.SamplingDuration {
			cb.resetCounters()
		}
	}
}

func (cb *CircuitBreaker) recordFailure(trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.consecFails++
	cb.totalRequests++
	recordFailure(cb.name)

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		if trial {
			// A failed trial reopens the circuit and restarts the timer.
			cb.transitionTo(StateOpen)
		}
	}
}

// shouldOpen is called with the mutex held.
func (cb *CircuitBreaker) shouldOpen() bool {
	if cb.consecFails >= cb.config.MaxFailures {
		return true
	}
	if cb.totalRequests >= cb.config.MinRequests {
		ratio := float64(cb.failures) / float64(cb.totalRequests)
		if ratio >= cb.config.FailureRatio {
			return true
		}
	}
	return false
}

// transitionTo is called with the mutex held.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	if newState == StateOpen {
		cb.lastOpenedAt = time.Now()
	}
	cb.resetCounters()

	recordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		observability.String("service", cb.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// resetCounters is called with the mutex held.
func (cb *CircuitBreaker) resetCounters() {
	cb.failures = 0
	cb.successes = 0
	cb.consecFails = 0
	cb.totalRequests = 0
	cb.trialInFlight = false
	cb.samplingStart = time.Now()
}

func (cb *CircuitBreaker) isSuccessful(err error) bool {
	if cb.config.IsSuccessful != nil {
		return cb.config.IsSuccessful(err)
	}
	return err == nil
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the service name the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CallTimeout returns the configured per-call timeout.
func (cb *CircuitBreaker) CallTimeout() time.Duration {
	return cb.config.CallTimeout
}

// Reset forces the breaker back to closed with counters cleared.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.resetCounters()
}

// Stats is a point-in-time snapshot of breaker counters.
type Stats struct {
	State         State
	Failures      int
	Successes     int
	ConsecFails   int
	TotalRequests int
	LastOpenedAt  time.Time
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:         cb.state,
		Failures:      cb.failures,
		Successes:     cb.successes,
		ConsecFails:   cb.consecFails,
		TotalRequests: cb.totalRequests,
		LastOpenedAt:  cb.lastOpenedAt,
	}
}

// FailureRatio returns the failure ratio in the current window.
func (s Stats) FailureRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.TotalRequests)
}
