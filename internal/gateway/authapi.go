package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cellvista/gateway/internal/token"
	"github.com/cellvista/gateway/internal/util"
)

// loginRequest is the POST /auth/login payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Device   string `json:"device"`
}

// refreshRequest is the POST /auth/refresh payload.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// registerAuthRoutes mounts the token lifecycle endpoints.
func (g *Gateway) registerAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", g.handleLogin)
	mux.HandleFunc("POST /auth/refresh", g.handleRefresh)
	mux.HandleFunc("POST /auth/logout", g.handleLogout)
	mux.HandleFunc("GET /auth/sessions", g.handleListSessions)
	mux.HandleFunc("DELETE /auth/sessions", g.handleRevokeSessions)
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if g.identityProvider == nil {
		g.writeError(w, r, util.NewServiceUnavailableError("identity provider is not configured"))
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, r, util.NewBadRequestError("malformed login payload"))
		return
	}
	if req.Username == "" || req.Password == "" {
		g.writeError(w, r, util.NewBadRequestError("username and password are required"))
		return
	}

	identity, err := g.identityProvider.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		g.writeError(w, r, util.NewAuthenticationError("invalid credentials").WithCause(err))
		return
	}

	pair, err := g.tokens.Login(r.Context(), identity.Subject, identity.Roles, identity.Permissions, req.Device)
	if err != nil {
		g.writeError(w, r, util.NewInternalError("failed to issue tokens").WithCause(err))
		return
	}

	g.writeJSON(w, http.StatusOK, pair)
}

func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		g.writeError(w, r, util.NewBadRequestError("refreshToken is required"))
		return
	}

	pair, err := g.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrRefreshReused),
			errors.Is(err, token.ErrSessionExpired),
			errors.Is(err, token.ErrInvalidToken),
			errors.Is(err, token.ErrWrongTokenType):
			g.writeError(w, r, util.NewAuthenticationError("refresh token rejected").WithCause(err))
		default:
			g.writeError(w, r, util.NewInternalError("failed to refresh tokens").WithCause(err))
		}
		return
	}

	g.writeJSON(w, http.StatusOK, pair)
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := bearerToken(r)
	if raw == "" {
		g.writeError(w, r, util.NewAuthenticationError("bearer token required"))
		return
	}

	if err := g.tokens.Revoke(r.Context(), raw); err != nil {
		if errors.Is(err, token.ErrInvalidToken) || errors.Is(err, token.ErrWrongTokenType) {
			g.writeError(w, r, util.NewAuthenticationError("invalid token"))
		} else {
			g.writeError(w, r, util.NewInternalError("failed to revoke token").WithCause(err))
		}
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	identity := util.IdentityFromContext(r.Context())
	if identity == nil {
		g.writeError(w, r, util.NewAuthenticationError("authentication required"))
		return
	}

	sessions, err := g.tokens.ListSessions(r.Context(), identity.Subject)
	if err != nil {
		g.writeError(w, r, util.NewInternalError("failed to list sessions").WithCause(err))
		return
	}

	g.writeJSON(w, http.StatusOK, sessions)
}

// handleRevokeSessions ends the caller's sessions on every device.
// With ?keepCurrent=true the session behind the presented token
// survives.
func (g *Gateway) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	identity := util.IdentityFromContext(r.Context())
	if identity == nil {
		g.writeError(w, r, util.NewAuthenticationError("authentication required"))
		return
	}

	except := ""
	if strings.EqualFold(r.URL.Query().Get("keepCurrent"), "true") {
		except = identity.SessionID
	}

	count, err := g.tokens.RevokeAll(r.Context(), identity.Subject, except)
	if err != nil {
		g.writeError(w, r, util.NewInternalError("failed to revoke sessions").WithCause(err))
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]int{"revoked": count})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writer := &util.EnvelopeWriter{Production: g.config.Production, Logger: g.logger}
	writer.Write(w, r, err)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
