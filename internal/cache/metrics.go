package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total cache hits by backend",
		},
		[]string{"backend"},
	)

	missesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total cache misses by backend",
		},
		[]string{"backend"},
	)

	writeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_write_failures_total",
			Help: "Total cache write failures (swallowed, never user-visible)",
		},
		[]string{"backend"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_cache_operation_duration_seconds",
			Help:    "Duration of cache store operations",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)
)

func recordHit(backend string) {
	hitsTotal.WithLabelValues(backend).Inc()
}

func recordMiss(backend string) {
	missesTotal.WithLabelValues(backend).Inc()
}

// RecordWriteFailure counts a swallowed cache write failure.
func RecordWriteFailure(backend string) {
	writeFailuresTotal.WithLabelValues(backend).Inc()
}

func observeOperation(backend, operation string, d time.Duration) {
	operationDuration.WithLabelValues(backend, operation).Observe(d.Seconds())
}
