package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/token"
	"github.com/cellvista/gateway/internal/util"
)

// TokenVerifier validates an access token and returns the caller's
// identity.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, accessToken string) (*util.Identity, error)
}

// Authentication returns a middleware that verifies bearer tokens and
// attaches the identity to the request context. Requests without a
// token pass through unauthenticated; route authorization decides
// whether that is acceptable.
func Authentication(verifier TokenVerifier, production bool, logger observability.Logger) func(http.Handler) http.Handler {
	writer := &util.EnvelopeWriter{Production: production, Logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := verifier.VerifyAccess(r.Context(), raw)
			if err != nil {
				authFailures.Inc()
				logger.Debug("token verification failed",
					observability.String("path", r.URL.Path),
					observability.Error(err),
				)

				writer.Write(w, r, util.NewAuthenticationError(authErrorMessage(err)))
				return
			}

			ctx := util.ContextWithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, token.ErrTokenRevoked):
		return "token has been revoked"
	case errors.Is(err, token.ErrWrongTokenType):
		return "access token required"
	default:
		return "invalid or expired token"
	}
}

// extractBearerToken pulls the token out of the Authorization header.
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get(HeaderAuthorization)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
}
