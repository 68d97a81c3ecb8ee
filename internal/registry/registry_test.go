package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellvista/gateway/internal/config"
)

func mustEntry(t *testing.T, name, baseURL string) *ServiceEntry {
	t.Helper()
	base, err := url.Parse(baseURL)
	require.NoError(t, err)
	return &ServiceEntry{Name: name, BaseURL: base, healthy: true}
}

func TestRegistry_RegisterResolve(t *testing.T) {
	t.Run("resolves a registered healthy service", func(t *testing.T) {
		r := New(nil)
		r.Register(mustEntry(t, "segmentation", "http://segmentation:8000"))

		entry, err := r.Resolve("segmentation")
		require.NoError(t, err)
		assert.Equal(t, "segmentation", entry.Name)
	})

	t.Run("unknown service", func(t *testing.T) {
		r := New(nil)

		_, err := r.Resolve("nope")
		assert.ErrorIs(t, err, ErrServiceNotFound)
	})

	t.Run("unhealthy service", func(t *testing.T) {
		r := New(nil)
		entry := mustEntry(t, "archive", "http://archive:8020")
		r.Register(entry)
		entry.setHealthy(false)

		_, err := r.Resolve("archive")
		assert.ErrorIs(t, err, ErrServiceUnhealthy)
	})

	t.Run("re-registering replaces the entry", func(t *testing.T) {
		r := New(nil)
		r.Register(mustEntry(t, "archive", "http://old:8020"))
		r.Register(mustEntry(t, "archive", "http://new:8020"))

		entry, err := r.Resolve("archive")
		require.NoError(t, err)
		assert.Equal(t, "http://new:8020", entry.BaseURL.String())
		assert.Len(t, r.List(), 1)
	})

	t.Run("deregister removes the entry", func(t *testing.T) {
		r := New(nil)
		r.Register(mustEntry(t, "archive", "http://archive:8020"))
		r.Deregister("archive")

		_, err := r.Resolve("archive")
		assert.ErrorIs(t, err, ErrServiceNotFound)
	})
}

func TestRegistry_FromConfig(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		r, err := FromConfig([]config.ServiceConfig{
			{Name: "segmentation", BaseURL: "http://segmentation:8000"},
		}, nil)
		require.NoError(t, err)

		entry := r.Get("segmentation")
		require.NotNil(t, entry)
		assert.Equal(t, "/health", entry.HealthPath)
		assert.Equal(t, "/api/segmentation", entry.Prefix)
		assert.True(t, entry.Healthy())
	})

	t.Run("rejects an invalid base url", func(t *testing.T) {
		_, err := FromConfig([]config.ServiceConfig{
			{Name: "bad", BaseURL: "http://bad host/"},
		}, nil)
		assert.Error(t, err)
	})
}

func TestRegistry_Reload(t *testing.T) {
	r, err := FromConfig([]config.ServiceConfig{
		{Name: "segmentation", BaseURL: "http://segmentation:8000"},
		{Name: "archive", BaseURL: "http://archive:8020"},
	}, nil)
	require.NoError(t, err)
	r.Get("segmentation").setHealthy(false)

	err = r.Reload([]config.ServiceConfig{
		{Name: "segmentation", BaseURL: "http://segmentation:8000"},
		{Name: "archive", BaseURL: "http://archive-v2:8020"},
		{Name: "taskrunner", BaseURL: "http://taskrunner:8010"},
	})
	require.NoError(t, err)

	// Same base URL keeps its health state.
	assert.False(t, r.Get("segmentation").Healthy())
	// A changed base URL starts healthy again.
	assert.True(t, r.Get("archive").Healthy())
	assert.NotNil(t, r.Get("taskrunner"))
	assert.Len(t, r.List(), 3)
}

func TestHealthChecker(t *testing.T) {
	t.Run("demotes a failing service and promotes it back", func(t *testing.T) {
		var healthy atomic.Bool
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if healthy.Load() {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		}))
		defer backend.Close()

		r, err := FromConfig([]config.ServiceConfig{
			{Name: "segmentation", BaseURL: backend.URL},
		}, nil)
		require.NoError(t, err)

		checker := NewHealthChecker(r, time.Hour, time.Second, nil)

		checker.CheckAll(context.Background())
		assert.False(t, r.Get("segmentation").Healthy())

		healthy.Store(true)
		checker.CheckAll(context.Background())
		assert.True(t, r.Get("segmentation").Healthy())
		assert.False(t, r.Get("segmentation").LastCheck().IsZero())
	})

	t.Run("unreachable backend is demoted", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		backend.Close()

		r, err := FromConfig([]config.ServiceConfig{
			{Name: "archive", BaseURL: backend.URL},
		}, nil)
		require.NoError(t, err)

		checker := NewHealthChecker(r, time.Hour, time.Second, nil)
		checker.CheckAll(context.Background())

		assert.False(t, r.Get("archive").Healthy())
	})

	t.Run("start and stop terminate cleanly", func(t *testing.T) {
		r := New(nil)
		checker := NewHealthChecker(r, 10*time.Millisecond, time.Second, nil)

		checker.Start(context.Background())
		time.Sleep(30 * time.Millisecond)
		checker.Stop()
	})
}
