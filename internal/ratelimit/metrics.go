package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_ratelimit_checks_total",
		Help: "Total rate limit checks by backend and outcome",
	},
	[]string{"backend", "result"},
)

func recordCheck(backend string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "throttled"
	}
	checksTotal.WithLabelValues(backend, result).Inc()
}
