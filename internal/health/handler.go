package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// checkTimeout bounds dependency checks triggered by a probe.
const checkTimeout = 5 * time.Second

// RegisterRoutes mounts the health endpoints on the admin router.
func (c *Checker) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", c.healthHandler)
	router.GET("/ready", c.readyHandler)
}

// healthHandler serves the full health report. Degraded still returns
// 200 so load balancers keep routing while backends recover.
func (c *Checker) healthHandler(gc *gin.Context) {
	ctx, cancel := contextWithTimeout(gc, checkTimeout)
	defer cancel()

	resp := c.Check(ctx)

	status := http.StatusOK
	if resp.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	gc.JSON(status, resp)
}

// readyHandler reports readiness: any non-healthy state fails the
// probe.
func (c *Checker) readyHandler(gc *gin.Context) {
	ctx, cancel := contextWithTimeout(gc, checkTimeout)
	defer cancel()

	resp := c.Check(ctx)

	status := http.StatusOK
	if resp.Status != StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	gc.JSON(status, gin.H{
		"status":    resp.Status,
		"timestamp": resp.Timestamp,
	})
}

func contextWithTimeout(gc *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(gc.Request.Context(), d)
}
