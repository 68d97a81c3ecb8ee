// Package health reports gateway and backend service health for the
// admin listener.
package health

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/cellvista/gateway/internal/registry"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the gateway and all services are healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates some backend services are unhealthy.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates a gateway dependency is down.
	StatusUnhealthy Status = "unhealthy"
)

// ServiceStatus is the per-service portion of the health response.
type ServiceStatus struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"lastCheck"`
}

// MemoryStats is the runtime memory portion of the health response.
type MemoryStats struct {
	AllocBytes      uint64 `json:"allocBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	NumGC           uint32 `json:"numGC"`
	Goroutines      int    `json:"goroutines"`
}

// Response is the health endpoint payload.
type Response struct {
	Status    Status                   `json:"status"`
	Version   string                   `json:"version,omitempty"`
	Uptime    string                   `json:"uptime"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Checks    map[string]string        `json:"checks,omitempty"`
	Memory    MemoryStats              `json:"memory"`
}

// CheckFunc probes one gateway dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Checker aggregates backend service health and dependency checks.
type Checker struct {
	version   string
	startTime time.Time
	registry  *registry.Registry

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a health checker over the service registry.
func NewChecker(version string, reg *registry.Registry) *Checker {
	return &Checker{
		version:   version,
		startTime: time.Now(),
		registry:  reg,
		checks:    make(map[string]CheckFunc),
	}
}

// RegisterCheck registers a dependency check under name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check builds the health response. Dependency checks run concurrently;
// any failing check makes the gateway unhealthy, while unhealthy
// backend services only degrade it.
func (c *Checker) Check(ctx context.Context) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceStatus),
		Memory:    readMemoryStats(),
	}

	if c.registry != nil {
		for _, entry := range c.registry.List() {
			healthy := entry.Healthy()
			resp.Services[entry.Name] = ServiceStatus{
				Healthy:   healthy,
				LastCheck: entry.LastCheck(),
			}
			if !healthy {
				resp.Status = StatusDegraded
			}
		}
	}

	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	if len(checks) > 0 {
		resp.Checks = make(map[string]string, len(checks))

		type result struct {
			name string
			err  error
		}
		results := make(chan result, len(checks))

		var wg sync.WaitGroup
		for name, fn := range checks {
			wg.Add(1)
			go func(name string, fn CheckFunc) {
				defer wg.Done()
				results <- result{name: name, err: fn(ctx)}
			}(name, fn)
		}
		wg.Wait()
		close(results)

		for res := range results {
			if res.err != nil {
				resp.Checks[res.name] = res.err.Error()
				resp.Status = StatusUnhealthy
			} else {
				resp.Checks[res.name] = "ok"
			}
		}
	}

	return resp
}

func readMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		Goroutines:      runtime.NumGoroutine(),
	}
}
