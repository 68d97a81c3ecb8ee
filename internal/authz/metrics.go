package authz

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_authz_decisions_total",
			Help: "Total authorization decisions by result",
		},
		[]string{"result"},
	)

	decisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_authz_decision_duration_seconds",
			Help:    "Authorization decision latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
