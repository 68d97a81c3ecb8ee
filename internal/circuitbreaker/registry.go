package circuitbreaker

import (
	"sync"
	"time"

	"github.com/cellvista/gateway/internal/observability"
)

// Registry holds one circuit breaker per backend service. Each breaker
// owns its own lock so unrelated services never serialize on each other.
type Registry struct {
	breakers sync.Map
	config   *Config
	logger   observability.Logger
}

// NewRegistry creates a registry with the given default breaker config.
func NewRegistry(config *Config, logger observability.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{config: config, logger: logger}
}

// Get returns the breaker for the named service, or nil.
func (r *Registry) Get(name string) *CircuitBreaker {
	value, ok := r.breakers.Load(name)
	if !ok {
		return nil
	}
	return value.(*CircuitBreaker)
}

// GetOrCreate returns the breaker for the named service, creating one
// with the registry default config on first use.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*CircuitBreaker)
	}

	cb := New(name, r.config, r.logger)
	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if loaded {
		return actual.(*CircuitBreaker)
	}

	r.logger.Debug("created circuit breaker", observability.String("service", name))
	return cb
}

// GetOrCreateWithTimeout is GetOrCreate with a per-service call
// timeout overriding the registry default. A non-positive timeout
// keeps the default; an existing breaker is returned unchanged.
func (r *Registry) GetOrCreateWithTimeout(name string, callTimeout time.Duration) *CircuitBreaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*CircuitBreaker)
	}

	config := r.config
	if callTimeout > 0 {
		override := *r.config
		override.CallTimeout = callTimeout
		config = &override
	}

	cb := New(name, config, r.logger)
	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if loaded {
		return actual.(*CircuitBreaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("service", name),
		observability.Duration("call_timeout", config.CallTimeout),
	)
	return cb
}

// Remove deletes the breaker for the named service.
func (r *Registry) Remove(name string) {
	r.breakers.Delete(name)
}

// Stats returns a snapshot of every breaker in the registry.
func (r *Registry) Stats() map[string]Stats {
	stats := make(map[string]Stats)
	r.breakers.Range(func(key, value interface{}) bool {
		stats[key.(string)] = value.(*CircuitBreaker).Stats()
		return true
	})
	return stats
}

// ResetAll resets every breaker to closed.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(_, value interface{}) bool {
		value.(*CircuitBreaker).Reset()
		return true
	})
}
