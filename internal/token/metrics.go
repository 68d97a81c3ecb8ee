package token

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_issued_total",
			Help: "Total token pairs issued by flow",
		},
		[]string{"flow"},
	)

	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_token_verifications_total",
			Help: "Total access token verifications by result",
		},
		[]string{"result"},
	)

	revocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_token_revocations_total",
			Help: "Total token revocations by kind",
		},
		[]string{"kind"},
	)

	reuseTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_refresh_token_reuse_total",
			Help: "Total detected refresh token replays",
		},
	)
)
