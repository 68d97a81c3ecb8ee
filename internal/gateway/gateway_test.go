package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellvista/gateway/internal/config"
	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/token"
	"github.com/cellvista/gateway/internal/util"
)

// staticIdentityProvider accepts a single hardcoded credential pair.
type staticIdentityProvider struct{}

func (staticIdentityProvider) Authenticate(_ context.Context, username, password string) (*util.Identity, error) {
	if username != "ada" || password != "lovelace" {
		return nil, fmt.Errorf("unknown user")
	}
	return &util.Identity{
		Subject:     "user-ada",
		Roles:       []string{"operator"},
		Permissions: []string{"jobs:read"},
	}, nil
}

func testConfigYAML(backendURL string) []byte {
	return []byte(fmt.Sprintf(`
listen:
  address: "127.0.0.1:0"
admin:
  address: "127.0.0.1:0"
token:
  secret: "unit-test-secret-0123456789abcdef"
  accessTtl: 15m
  refreshTtl: 168h
services:
  - name: segmentation
    baseUrl: %q
routes:
  - path: /api/segmentation/jobs
    method: GET
    roles: [operator]
  - path: /api/segmentation/status
    method: GET
    public: true
`, backendURL))
}

func newTestGateway(t *testing.T) (*Gateway, http.Handler) {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend-Path", r.URL.Path)
		fmt.Fprint(w, "backend response")
	}))
	t.Cleanup(backend.Close)

	cfg, err := config.Parse(testConfigYAML(backend.URL))
	require.NoError(t, err)

	gw, err := New(cfg,
		WithLogger(observability.NopLogger()),
		WithIdentityProvider(staticIdentityProvider{}),
	)
	require.NoError(t, err)

	return gw, gw.mainListener.handler
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler) token.Pair {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/auth/login",
		map[string]string{"username": "ada", "password": "lovelace", "device": "workstation"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pair token.Pair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

func TestNew(t *testing.T) {
	t.Run("nil config fails", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("invalid config fails", func(t *testing.T) {
		cfg := config.Default()
		_, err := New(cfg)
		assert.Error(t, err)
	})

	t.Run("valid config starts stopped", func(t *testing.T) {
		gw, _ := newTestGateway(t)
		assert.Equal(t, StateStopped, gw.State())
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestMatchService(t *testing.T) {
	gw, _ := newTestGateway(t)

	t.Run("matches by prefix", func(t *testing.T) {
		entry := gw.matchService("/api/segmentation/jobs/42")
		require.NotNil(t, entry)
		assert.Equal(t, "segmentation", entry.Name)
	})

	t.Run("matches the bare prefix", func(t *testing.T) {
		assert.NotNil(t, gw.matchService("/api/segmentation"))
	})

	t.Run("prefix must end at a segment boundary", func(t *testing.T) {
		assert.Nil(t, gw.matchService("/api/segmentationx/jobs"))
	})

	t.Run("no match outside every prefix", func(t *testing.T) {
		assert.Nil(t, gw.matchService("/api/unknown/jobs"))
	})

	t.Run("longest prefix wins", func(t *testing.T) {
		require.NoError(t, gw.registry.RegisterConfig(config.ServiceConfig{
			Name:    "segmentation-jobs",
			BaseURL: "http://127.0.0.1:1",
			Prefix:  "/api/segmentation/jobs",
		}))
		entry := gw.matchService("/api/segmentation/jobs/42")
		require.NotNil(t, entry)
		assert.Equal(t, "segmentation-jobs", entry.Name)

		entry = gw.matchService("/api/segmentation/models")
		require.NotNil(t, entry)
		assert.Equal(t, "segmentation", entry.Name)
	})
}

func TestPipeline_Dispatch(t *testing.T) {
	t.Run("unknown route denied before dispatch", func(t *testing.T) {
		_, handler := newTestGateway(t)
		pair := login(t, handler)

		rec := doJSON(t, handler, http.MethodGet, "/api/unknown/thing", nil,
			map[string]string{"Authorization": "Bearer " + pair.AccessToken})

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("path outside every prefix returns 404", func(t *testing.T) {
		gw, _ := newTestGateway(t)

		rec := httptest.NewRecorder()
		gw.dispatch(rec, httptest.NewRequest(http.MethodGet, "/api/unknown/thing", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), util.TypeNotFound)
	})

	t.Run("public route proxies without a token", func(t *testing.T) {
		_, handler := newTestGateway(t)

		rec := doJSON(t, handler, http.MethodGet, "/api/segmentation/status", nil, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "backend response", rec.Body.String())
		assert.Equal(t, "/status", rec.Header().Get("X-Backend-Path"))
	})

	t.Run("protected route requires a token", func(t *testing.T) {
		_, handler := newTestGateway(t)

		rec := doJSON(t, handler, http.MethodGet, "/api/segmentation/jobs", nil, nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), util.TypeAuthentication)
	})

	t.Run("protected route proxies with a valid token", func(t *testing.T) {
		_, handler := newTestGateway(t)
		pair := login(t, handler)

		rec := doJSON(t, handler, http.MethodGet, "/api/segmentation/jobs", nil,
			map[string]string{"Authorization": "Bearer " + pair.AccessToken})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "backend response", rec.Body.String())
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})
}

func TestAuthAPI_Login(t *testing.T) {
	_, handler := newTestGateway(t)

	t.Run("valid credentials issue a token pair", func(t *testing.T) {
		pair := login(t, handler)
		assert.NotEmpty(t, pair.SessionID)
		assert.False(t, pair.ExpiresAt.IsZero())
	})

	t.Run("wrong credentials rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/login",
			map[string]string{"username": "ada", "password": "wrong"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/login",
			map[string]string{"username": "ada"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthAPI_Refresh(t *testing.T) {
	_, handler := newTestGateway(t)

	t.Run("rotates the pair", func(t *testing.T) {
		pair := login(t, handler)

		rec := doJSON(t, handler, http.MethodPost, "/auth/refresh",
			map[string]string{"refreshToken": pair.RefreshToken}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var fresh token.Pair
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fresh))
		assert.NotEqual(t, pair.RefreshToken, fresh.RefreshToken)
		assert.Equal(t, pair.SessionID, fresh.SessionID)
	})

	t.Run("replayed refresh token rejected", func(t *testing.T) {
		pair := login(t, handler)

		first := doJSON(t, handler, http.MethodPost, "/auth/refresh",
			map[string]string{"refreshToken": pair.RefreshToken}, nil)
		require.Equal(t, http.StatusOK, first.Code)

		replay := doJSON(t, handler, http.MethodPost, "/auth/refresh",
			map[string]string{"refreshToken": pair.RefreshToken}, nil)
		assert.Equal(t, http.StatusUnauthorized, replay.Code)
	})

	t.Run("missing token rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/refresh",
			map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuthAPI_Logout(t *testing.T) {
	_, handler := newTestGateway(t)
	pair := login(t, handler)
	auth := map[string]string{"Authorization": "Bearer " + pair.AccessToken}

	rec := doJSON(t, handler, http.MethodPost, "/auth/logout", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	t.Run("revoked token no longer proxies", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/api/segmentation/jobs", nil, auth)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("logout without a token rejected", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/auth/logout", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuthAPI_Sessions(t *testing.T) {
	_, handler := newTestGateway(t)
	first := login(t, handler)
	second := login(t, handler)
	auth := map[string]string{"Authorization": "Bearer " + second.AccessToken}

	t.Run("lists every session for the user", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/auth/sessions", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var sessions []json.RawMessage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
		assert.Len(t, sessions, 2)
	})

	t.Run("revoke all keeps the current session when asked", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodDelete, "/auth/sessions?keepCurrent=true", nil, auth)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"revoked":1`)

		// Revoked session can no longer refresh, the spared one still can.
		stale := doJSON(t, handler, http.MethodPost, "/auth/refresh",
			map[string]string{"refreshToken": first.RefreshToken}, nil)
		assert.Equal(t, http.StatusUnauthorized, stale.Code)

		live := doJSON(t, handler, http.MethodPost, "/auth/refresh",
			map[string]string{"refreshToken": second.RefreshToken}, nil)
		assert.Equal(t, http.StatusOK, live.Code, live.Body.String())
	})
}

func TestGateway_Lifecycle(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.Start(ctx))
	assert.Equal(t, StateRunning, gw.State())

	t.Run("double start fails", func(t *testing.T) {
		assert.Error(t, gw.Start(ctx))
	})

	require.NoError(t, gw.Stop(ctx))
	assert.Equal(t, StateStopped, gw.State())

	t.Run("stop when not running fails", func(t *testing.T) {
		assert.Error(t, gw.Stop(ctx))
	})
}

func TestGateway_Reload(t *testing.T) {
	gw, handler := newTestGateway(t)

	fresh, err := config.Parse(testConfigYAML("http://127.0.0.1:1"))
	require.NoError(t, err)
	fresh.Routes = []config.RoutePermissionConfig{
		{Path: "/api/segmentation/status", Method: http.MethodGet, Roles: []string{"admin"}},
	}
	require.NoError(t, gw.Reload(fresh))

	t.Run("previously public route now requires auth", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/api/segmentation/status", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		bad := config.Default()
		assert.Error(t, gw.Reload(bad))
	})
}
