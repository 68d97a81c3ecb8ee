package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cellvista/gateway/internal/config"
	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/util"
)

// cbTracer is the OTEL tracer used for the front breaker.
var cbTracer = otel.Tracer("gateway/circuitbreaker")

// FrontBreaker guards the gateway as a whole: when the pipeline keeps
// producing 5xx responses the breaker sheds load before the per-service
// breakers are even reached.
type FrontBreaker struct {
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// NewFrontBreaker creates the gateway-level breaker.
func NewFrontBreaker(minRequests int, failureRatio float64, resetTimeout time.Duration, logger observability.Logger) *FrontBreaker {
	fb := &FrontBreaker{logger: logger}

	min := safeIntToUint32(minRequests)
	settings := gobreaker.Settings{
		Name:     "gateway",
		Interval: resetTimeout,
		Timeout:  resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= min && ratio >= failureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fb.logger.Info("front breaker state change",
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)

			frontBreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()

			_, span := cbTracer.Start(context.Background(),
				"circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.name", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
	}

	fb.cb = gobreaker.NewCircuitBreaker(settings)
	return fb
}

// State returns the current breaker state.
func (fb *FrontBreaker) State() gobreaker.State {
	return fb.cb.State()
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// FrontBreakerMiddleware returns a middleware that runs the pipeline
// through the gateway-level breaker. 5xx responses count as failures.
func FrontBreakerMiddleware(fb *FrontBreaker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := util.NewStatusCapturingResponseWriter(w)

			_, err := fb.cb.Execute(func() (interface{}, error) {
				next.ServeHTTP(rw, r)

				if rw.StatusCode >= http.StatusInternalServerError {
					return nil, util.NewInternalError("upstream failure")
				}
				return nil, nil
			})

			if err != nil {
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					fb.logger.Warn("front breaker rejected request",
						observability.String("path", r.URL.Path),
						observability.String("state", fb.State().String()),
					)
					frontBreakerRejections.Inc()

					if !rw.HeaderWritten {
						w.Header().Set(HeaderContentType, ContentTypeJSON)
						w.WriteHeader(http.StatusServiceUnavailable)
						_, _ = io.WriteString(w, `{"success":false,"error":{"type":"CircuitBreakerError","message":"gateway is shedding load"}}`)
					}
					return
				}
				// 5xx failures were already written by the handler.
			}
		})
	}
}

// FrontBreakerFromConfig builds the front breaker middleware from
// gateway configuration, degrading to a pass-through when disabled.
func FrontBreakerFromConfig(cfg *config.CircuitBreakerConfig, logger observability.Logger) func(http.Handler) http.Handler {
	if cfg == nil || !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	fb := NewFrontBreaker(cfg.MinRequests, cfg.FailureRatio, cfg.ResetTimeout.Duration(), logger)
	return FrontBreakerMiddleware(fb)
}
