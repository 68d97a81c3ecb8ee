package util

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellvista/gateway/internal/observability"
)

func writeEnvelope(t *testing.T, production bool, err error, reqOpts ...func(*http.Request) *http.Request) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()

	ew := NewEnvelopeWriter(production, observability.NopLogger())
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/segmentation/jobs", nil)
	for _, opt := range reqOpts {
		r = opt(r)
	}
	ew.Write(rec, r, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestEnvelopeWriter_Write(t *testing.T) {
	t.Run("structured error maps to its status", func(t *testing.T) {
		rec, env := writeEnvelope(t, false, NewRateLimitError("rate limit exceeded").WithCode("RATE_LIMITED"))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.False(t, env.Success)
		assert.Equal(t, TypeRateLimit, env.Error.Type)
		assert.Equal(t, "rate limit exceeded", env.Error.Message)
		assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	})

	t.Run("includes request id from context", func(t *testing.T) {
		_, env := writeEnvelope(t, false, NewNotFoundError("no such route"), func(r *http.Request) *http.Request {
			return r.WithContext(observability.ContextWithRequestID(r.Context(), "req-abc"))
		})
		assert.Equal(t, "req-abc", env.RequestID)
	})

	t.Run("unknown error hides internals behind generic message", func(t *testing.T) {
		rec, env := writeEnvelope(t, true, errors.New("pq: password authentication failed"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, TypeInternal, env.Error.Type)
		assert.Equal(t, "internal server error", env.Error.Message)
		assert.NotContains(t, rec.Body.String(), "password")
	})

	t.Run("development mode exposes stack and cause", func(t *testing.T) {
		cause := errors.New("dial tcp 10.0.0.5:8010: connect: connection refused")
		_, env := writeEnvelope(t, false, NewInternalError("proxy failed").WithCause(cause))

		assert.NotEmpty(t, env.Error.Stack)
		assert.Equal(t, cause.Error(), env.Error.Details)
	})

	t.Run("production mode withholds stack and cause", func(t *testing.T) {
		cause := errors.New("dial tcp 10.0.0.5:8010: connect: connection refused")
		_, env := writeEnvelope(t, true, NewInternalError("proxy failed").WithCause(cause))

		assert.Empty(t, env.Error.Stack)
		assert.Empty(t, env.Error.Details)
	})

	t.Run("client errors never carry a stack", func(t *testing.T) {
		_, env := writeEnvelope(t, false, NewBadRequestError("malformed body"))
		assert.Empty(t, env.Error.Stack)
	})
}
