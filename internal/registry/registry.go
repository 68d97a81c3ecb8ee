// Package registry implements service discovery: logical service names
// resolved to base URLs with health tracking.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cellvista/gateway/internal/config"
	"github.com/cellvista/gateway/internal/observability"
)

// Common registry errors.
var (
	// ErrServiceNotFound indicates the service name is not registered.
	ErrServiceNotFound = errors.New("service not registered")

	// ErrServiceUnhealthy indicates the service failed its health check.
	ErrServiceUnhealthy = errors.New("service unhealthy")
)

// ServiceEntry describes one registered backend service. Fields other
// than the health flag are immutable after registration; the flag is
// guarded by the entry's own mutex so health updates on one service
// never block lookups of another.
type ServiceEntry struct {
	Name       string
	BaseURL    *url.URL
	Prefix     string
	Rewrite    string
	HealthPath string
	Metadata   map[string]string
	Timeout    time.Duration

	mu        sync.RWMutex
	healthy   bool
	lastCheck time.Time
}

// Healthy reports the current health flag.
func (e *ServiceEntry) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthy
}

// LastCheck returns when the entry's health was last probed.
func (e *ServiceEntry) LastCheck() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastCheck
}

// setHealthy updates the health flag.
func (e *ServiceEntry) setHealthy(healthy bool) {
	e.mu.Lock()
	e.healthy = healthy
	e.lastCheck = time.Now()
	e.mu.Unlock()

	v := 0.0
	if healthy {
		v = 1.0
	}
	serviceHealthy.WithLabelValues(e.Name).Set(v)
}

// Registry maps service names to entries. A name maps to at most one
// entry; re-registering a name replaces the previous entry.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*ServiceEntry
	logger   observability.Logger
}

// New creates an empty registry.
func New(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		services: make(map[string]*ServiceEntry),
		logger:   logger,
	}
}

// FromConfig creates a registry populated from configuration. Entries
// start healthy; the health checker demotes them on probe failure.
func FromConfig(cfgs []config.ServiceConfig, logger observability.Logger) (*Registry, error) {
	r := New(logger)
	for _, cfg := range cfgs {
		if err := r.RegisterConfig(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterConfig registers a service from its configuration block.
func (r *Registry) RegisterConfig(cfg config.ServiceConfig) error {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("service %s: invalid base URL: %w", cfg.Name, err)
	}

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/api/" + cfg.Name
	}

	entry := &ServiceEntry{
		Name:       cfg.Name,
		BaseURL:    base,
		Prefix:     prefix,
		Rewrite:    cfg.Rewrite,
		HealthPath: healthPath,
		Metadata:   cfg.Metadata,
		Timeout:    cfg.Timeout.Duration(),
		healthy:    true,
	}

	r.Register(entry)
	return nil
}

// Register adds or replaces the entry for its name.
func (r *Registry) Register(entry *ServiceEntry) {
	r.mu.Lock()
	r.services[entry.Name] = entry
	r.mu.Unlock()

	serviceHealthy.WithLabelValues(entry.Name).Set(1)
	r.logger.Info("service registered",
		observability.String("service", entry.Name),
		observability.String("base_url", entry.BaseURL.String()),
	)
}

// Deregister removes the named service. Entries are never removed
// implicitly; this is the only deletion path.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	delete(r.services, name)
	r.mu.Unlock()

	r.logger.Info("service deregistered", observability.String("service", name))
}

// Get returns the entry for name, or nil.
func (r *Registry) Get(name string) *ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[name]
}

// Resolve returns the entry for name, failing when the name is unknown
// or the service is currently unhealthy.
func (r *Registry) Resolve(name string) (*ServiceEntry, error) {
	entry := r.Get(name)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if !entry.Healthy() {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnhealthy, name)
	}
	return entry, nil
}

// List returns all registered entries.
func (r *Registry) List() []*ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*ServiceEntry, 0, len(r.services))
	for _, e := range r.services {
		entries = append(entries, e)
	}
	return entries
}

// Reload replaces the registered services with the given configuration,
// used by the config hot-reload path. Health state of entries that keep
// the same base URL is preserved.
func (r *Registry) Reload(cfgs []config.ServiceConfig) error {
	fresh, err := FromConfig(cfgs, r.logger)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, entry := range fresh.services {
		if old, ok := r.services[name]; ok && old.BaseURL.String() == entry.BaseURL.String() {
			entry.setHealthy(old.Healthy())
		}
	}
	r.services = fresh.services
	return nil
}
