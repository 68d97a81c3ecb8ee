package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Total proxied requests by service, method and status",
		},
		[]string{"service", "method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_proxy_request_duration_seconds",
			Help:    "Upstream request duration by service and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_retries_total",
			Help: "Total upstream retries by service",
		},
		[]string{"service"},
	)
)
