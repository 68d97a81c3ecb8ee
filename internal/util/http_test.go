package util

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "x-forwarded-for single entry",
			remoteAddr: "10.0.0.1:53422",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for takes first entry",
			remoteAddr: "10.0.0.1:53422",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2, 10.0.0.3"},
			want:       "203.0.113.7",
		},
		{
			name:       "x-real-ip when no forwarded-for",
			remoteAddr: "10.0.0.1:53422",
			headers:    map[string]string{"X-Real-IP": "198.51.100.4"},
			want:       "198.51.100.4",
		},
		{
			name:       "forwarded-for wins over real-ip",
			remoteAddr: "10.0.0.1:53422",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.7",
				"X-Real-IP":       "198.51.100.4",
			},
			want: "203.0.113.7",
		},
		{
			name:       "remote addr with port stripped",
			remoteAddr: "192.0.2.10:41000",
			want:       "192.0.2.10",
		},
		{
			name:       "ipv6 remote addr brackets stripped",
			remoteAddr: "[::1]:41000",
			want:       "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestStatusCapturingResponseWriter(t *testing.T) {
	t.Run("captures status and bytes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		w := NewStatusCapturingResponseWriter(rec)

		w.WriteHeader(http.StatusTeapot)
		n, err := w.Write([]byte("short and stout"))

		assert.NoError(t, err)
		assert.Equal(t, 15, n)
		assert.Equal(t, http.StatusTeapot, w.StatusCode)
		assert.Equal(t, 15, w.BytesWritten)
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("duplicate WriteHeader is suppressed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		w := NewStatusCapturingResponseWriter(rec)

		w.WriteHeader(http.StatusAccepted)
		w.WriteHeader(http.StatusInternalServerError)

		assert.Equal(t, http.StatusAccepted, w.StatusCode)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("write without explicit header defaults to 200", func(t *testing.T) {
		rec := httptest.NewRecorder()
		w := NewStatusCapturingResponseWriter(rec)

		_, _ = w.Write([]byte("ok"))

		assert.Equal(t, http.StatusOK, w.StatusCode)
		assert.True(t, w.HeaderWritten)
	})

	t.Run("accumulates bytes across writes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		w := NewStatusCapturingResponseWriter(rec)

		_, _ = w.Write([]byte("abc"))
		_, _ = w.Write([]byte("defg"))

		assert.Equal(t, 7, w.BytesWritten)
	})
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "success", StatusClass(http.StatusOK))
	assert.Equal(t, "success", StatusClass(http.StatusNoContent))
	assert.Equal(t, "success", StatusClass(http.StatusMovedPermanently))
	assert.Equal(t, "client_error", StatusClass(http.StatusNotFound))
	assert.Equal(t, "client_error", StatusClass(http.StatusTooManyRequests))
	assert.Equal(t, "server_error", StatusClass(http.StatusInternalServerError))
	assert.Equal(t, "server_error", StatusClass(http.StatusGatewayTimeout))
}
