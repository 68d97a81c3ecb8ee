package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cellvista/gateway/internal/observability"
)

// HealthChecker probes registered services in the background and flips
// their health flags. A service is demoted after failing a probe and
// promoted again on the next success.
type HealthChecker struct {
	registry *Registry
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	logger   observability.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHealthChecker creates a checker over the registry. interval
// defaults to 10s and timeout to 5s when non-positive.
func NewHealthChecker(r *Registry, interval, timeout time.Duration, logger observability.Logger) *HealthChecker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &HealthChecker{
		registry: r,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the probe loop. It returns immediately.
func (c *HealthChecker) Start(ctx context.Context) {
	go c.loop(ctx)
}

func (c *HealthChecker) loop(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			c.CheckAll(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every registered service concurrently and waits for
// all probes to finish.
func (c *HealthChecker) CheckAll(ctx context.Context) {
	entries := c.registry.List()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(e *ServiceEntry) {
			defer wg.Done()
			c.check(ctx, e)
		}(entry)
	}
	wg.Wait()
}

func (c *HealthChecker) check(ctx context.Context, entry *ServiceEntry) {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := entry.BaseURL.JoinPath(entry.HealthPath).String()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target, nil)
	if err != nil {
		c.demote(entry, err)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.demote(entry, err)
		return
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	wasHealthy := entry.Healthy()
	entry.setHealthy(healthy)

	if healthy && !wasHealthy {
		c.logger.Info("service recovered", observability.String("service", entry.Name))
	} else if !healthy && wasHealthy {
		c.logger.Warn("service unhealthy",
			observability.String("service", entry.Name),
			observability.Int("status", resp.StatusCode),
		)
	}
	healthChecksTotal.WithLabelValues(entry.Name, healthResult(healthy)).Inc()
}

func (c *HealthChecker) demote(entry *ServiceEntry, err error) {
	if entry.Healthy() {
		c.logger.Warn("service unhealthy",
			observability.String("service", entry.Name),
			observability.Error(err),
		)
	}
	entry.setHealthy(false)
	healthChecksTotal.WithLabelValues(entry.Name, "failure").Inc()
}

func healthResult(healthy bool) string {
	if healthy {
		return "success"
	}
	return "failure"
}

// Stop terminates the probe loop and waits for it to exit.
func (c *HealthChecker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}
