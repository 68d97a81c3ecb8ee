package middleware

import (
	"net/http"
	"time"

	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/util"
)

// Logging returns a middleware that logs HTTP requests and records
// request metrics.
func Logging(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := util.ContextWithStartTime(r.Context(), start)
			r = r.WithContext(ctx)

			rw := util.NewStatusCapturingResponseWriter(w)

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			requestID := observability.RequestIDFromContext(r.Context())

			logger.Info("http request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("query", r.URL.RawQuery),
				observability.Int("status", rw.StatusCode),
				observability.Int("size", rw.BytesWritten),
				observability.Duration("duration", duration),
				observability.String("client_ip", util.GetClientIP(r)),
				observability.String("user_agent", r.UserAgent()),
				observability.String("request_id", requestID),
			)

			requestsTotal.WithLabelValues(r.Method, util.StatusClass(rw.StatusCode)).Inc()
			requestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())
		})
	}
}
