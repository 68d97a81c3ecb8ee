package middleware

import (
	"net/http"

	"github.com/cellvista/gateway/internal/authz"
	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/util"
)

// Authorization returns a middleware that checks the caller against
// the route rule set. Requests with no matching rule are denied.
func Authorization(manager *authz.Manager, production bool, logger observability.Logger) func(http.Handler) http.Handler {
	writer := &util.EnvelopeWriter{Production: production, Logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := util.IdentityFromContext(r.Context())

			decision, err := manager.Authorize(r.Context(), identity, r.Method, r.URL.Path)
			if err != nil {
				writer.Write(w, r, util.NewInternalError("authorization check failed").WithCause(err))
				return
			}

			if !decision.Allowed {
				if identity == nil {
					writer.Write(w, r, util.NewAuthenticationError("authentication required"))
				} else {
					writer.Write(w, r, util.NewAuthorizationError("access denied"))
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
