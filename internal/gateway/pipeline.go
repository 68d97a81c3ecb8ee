package gateway

import (
	"net/http"
	"strings"

	"github.com/cellvista/gateway/internal/authz"
	"github.com/cellvista/gateway/internal/middleware"
	"github.com/cellvista/gateway/internal/registry"
	"github.com/cellvista/gateway/internal/util"
)

// chain composes middlewares so the first one listed is the outermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// buildPipeline assembles the main request handler: request ID,
// recovery and logging on the outside, then the front breaker, then
// authenticate, authorize, rate-limit and cache around the dispatcher.
func (g *Gateway) buildPipeline() http.Handler {
	mux := http.NewServeMux()
	g.registerAuthRoutes(mux)
	mux.Handle("/", http.HandlerFunc(g.dispatch))

	g.registerAuthRules()

	return chain(mux,
		middleware.RequestID(),
		middleware.Recovery(g.logger),
		middleware.Logging(g.logger),
		middleware.FrontBreakerFromConfig(&g.config.CircuitBreaker, g.logger),
		middleware.Authentication(g.tokens, g.config.Production, g.logger),
		middleware.Authorization(g.authzManager, g.config.Production, g.logger),
		middleware.RateLimitFromConfig(&g.config.RateLimit, g.limiter, g.config.Production, g.logger),
		middleware.CacheFromConfig(g.cache, &g.config.Cache, g.logger),
	)
}

// registerAuthRules makes the token endpoints reachable regardless of
// the configured route rules: the credential endpoints are public, the
// session endpoints only need a valid token.
func (g *Gateway) registerAuthRules() {
	public := []string{"/auth/login", "/auth/refresh"}
	for _, path := range public {
		g.authzManager.AddRule(authz.Rule{Path: path, Method: http.MethodPost, Public: true})
	}

	g.authzManager.AddRule(authz.Rule{Path: "/auth/logout", Method: http.MethodPost})
	g.authzManager.AddRule(authz.Rule{Path: "/auth/sessions", Method: http.MethodGet})
	g.authzManager.AddRule(authz.Rule{Path: "/auth/sessions", Method: http.MethodDelete})
}

// dispatch resolves the target service by path prefix and forwards the
// request. Paths outside every known prefix get 404.
func (g *Gateway) dispatch(w http.ResponseWriter, r *http.Request) {
	entry := g.matchService(r.URL.Path)
	if entry == nil {
		writer := &util.EnvelopeWriter{Production: g.config.Production, Logger: g.logger}
		writer.Write(w, r, util.NewNotFoundError("no service handles this path"))
		return
	}

	ctx := util.ContextWithService(r.Context(), entry.Name)
	g.proxy.Forward(w, r.WithContext(ctx), entry.Name)
}

// matchService picks the registered service with the longest prefix
// matching the path.
func (g *Gateway) matchService(path string) *registry.ServiceEntry {
	var best *registry.ServiceEntry
	for _, entry := range g.registry.List() {
		if !strings.HasPrefix(path, entry.Prefix) {
			continue
		}
		// Prefix must end at a segment boundary.
		if len(path) > len(entry.Prefix) && path[len(entry.Prefix)] != '/' && !strings.HasSuffix(entry.Prefix, "/") {
			continue
		}
		if best == nil || len(entry.Prefix) > len(best.Prefix) {
			best = entry
		}
	}
	return best
}
