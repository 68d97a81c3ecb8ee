package middleware

import (
	"net/http"
	"strconv"

	"github.com/cellvista/gateway/internal/config"
	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/ratelimit"
	"github.com/cellvista/gateway/internal/util"
)

// RateLimitOptions configures the rate limiting middleware.
type RateLimitOptions struct {
	// KeyFunc derives the limit key for a request. Defaults to the
	// client IP.
	KeyFunc ratelimit.KeyFunc

	// Skip reports whether the request bypasses rate limiting.
	Skip func(*http.Request) bool

	// OnLimited is called when a request is rejected.
	OnLimited func(*http.Request, *ratelimit.Result)

	// Production strips stack traces and causes from error envelopes.
	Production bool
}

// RateLimit returns a middleware that enforces the limiter and sets
// X-RateLimit headers on every response it evaluates.
func RateLimit(limiter ratelimit.Limiter, logger observability.Logger, opts RateLimitOptions) func(http.Handler) http.Handler {
	keyFunc := opts.KeyFunc
	if keyFunc == nil {
		keyFunc = ratelimit.IPKeyFunc
	}
	writer := &util.EnvelopeWriter{Production: opts.Production, Logger: logger}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Check(r.Context(), keyFunc(r))
			if err != nil {
				// Limiter failure must not take the gateway down, let
				// the request through.
				logger.Warn("rate limit check failed", observability.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Set(HeaderXRateLimitLimit, strconv.Itoa(result.Limit))
			header.Set(HeaderXRateLimitRemaining, strconv.Itoa(result.Remaining))
			header.Set(HeaderXRateLimitReset, strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				if opts.OnLimited != nil {
					opts.OnLimited(r, result)
				}

				retryAfter := int64(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				header.Set(HeaderRetryAfter, strconv.FormatInt(retryAfter, 10))

				logger.Debug("rate limit exceeded",
					observability.String("path", r.URL.Path),
					observability.String("client_ip", util.GetClientIP(r)),
				)

				writer.Write(w, r, util.NewRateLimitError("too many requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitFromConfig builds the rate limiting middleware from gateway
// configuration, degrading to a pass-through when disabled.
func RateLimitFromConfig(cfg *config.RateLimitConfig, limiter ratelimit.Limiter, production bool, logger observability.Logger) func(http.Handler) http.Handler {
	if cfg == nil || !cfg.Enabled || limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	skipPaths := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = struct{}{}
	}

	return RateLimit(limiter, logger, RateLimitOptions{
		KeyFunc: ratelimit.KeyFuncFor(cfg.KeyBy),
		Skip: func(r *http.Request) bool {
			_, ok := skipPaths[r.URL.Path]
			return ok
		},
		Production: production,
	})
}
