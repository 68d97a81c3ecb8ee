package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	serviceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_service_healthy",
			Help: "Whether the backend service is healthy (1) or not (0)",
		},
		[]string{"service"},
	)

	healthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_service_health_checks_total",
			Help: "Total health check probes by service and result",
		},
		[]string{"service", "result"},
	)
)
