package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	breakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_failures_total",
			Help: "Total failures recorded by circuit breakers",
		},
		[]string{"service"},
	)

	breakerSuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_successes_total",
			Help: "Total successes recorded by circuit breakers",
		},
		[]string{"service"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)

	breakerRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_rejected_total",
			Help: "Total calls rejected while the circuit was open",
		},
		[]string{"service"},
	)
)

func recordFailure(service string) {
	breakerFailuresTotal.WithLabelValues(service).Inc()
}

func recordSuccess(service string) {
	breakerSuccessesTotal.WithLabelValues(service).Inc()
}

func recordRejection(service string) {
	breakerRejectedTotal.WithLabelValues(service).Inc()
}

func recordStateChange(service string, from, to State) {
	breakerTransitionsTotal.WithLabelValues(service, from.String(), to.String()).Inc()
	breakerState.WithLabelValues(service).Set(float64(to))
}
