package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total HTTP requests by method and status class",
		},
		[]string{"method", "class"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	panicsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_panics_recovered_total",
			Help: "Total panics recovered in the request pipeline",
		},
	)

	authFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total rejected token verifications",
		},
	)

	frontBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_front_breaker_transitions_total",
			Help: "Front breaker state transitions",
		},
		[]string{"from", "to"},
	)

	frontBreakerRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_front_breaker_rejected_total",
			Help: "Requests rejected by the front breaker",
		},
	)
)
