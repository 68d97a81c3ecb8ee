package util

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantType   string
		wantStatus int
	}{
		{"validation", NewValidationError("bad field"), TypeValidation, http.StatusUnprocessableEntity},
		{"authentication", NewAuthenticationError("no token"), TypeAuthentication, http.StatusUnauthorized},
		{"authorization", NewAuthorizationError("denied"), TypeAuthorization, http.StatusForbidden},
		{"not found", NewNotFoundError("missing"), TypeNotFound, http.StatusNotFound},
		{"rate limit", NewRateLimitError("too many"), TypeRateLimit, http.StatusTooManyRequests},
		{"service unavailable", NewServiceUnavailableError("down"), TypeServiceUnavailable, http.StatusServiceUnavailable},
		{"timeout", NewTimeoutError("slow"), TypeTimeout, http.StatusGatewayTimeout},
		{"circuit breaker", NewCircuitBreakerError("open"), TypeCircuitBreaker, http.StatusServiceUnavailable},
		{"bad request", NewBadRequestError("malformed"), TypeBadRequest, http.StatusBadRequest},
		{"internal", NewInternalError("boom"), TypeInternal, http.StatusInternalServerError},
		{"bad gateway", NewBadGatewayError("conn refused"), TypeServiceUnavailable, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.Status)
		})
	}
}

func TestError_Error(t *testing.T) {
	e := NewTimeoutError("upstream too slow")
	assert.Equal(t, "TimeoutError: upstream too slow", e.Error())

	cause := errors.New("dial tcp: i/o timeout")
	withCause := e.WithCause(cause)
	assert.Contains(t, withCause.Error(), "upstream too slow")
	assert.Contains(t, withCause.Error(), "i/o timeout")
}

func TestError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("underlying")
	e := NewInternalError("wrapped").WithCause(cause)

	assert.ErrorIs(t, e, cause)
	assert.Equal(t, cause, errors.Unwrap(e))

	t.Run("matches same taxonomy type", func(t *testing.T) {
		assert.ErrorIs(t, NewRateLimitError("a"), NewRateLimitError("b"))
		assert.NotErrorIs(t, NewRateLimitError("a"), NewTimeoutError("b"))
	})
}

func TestError_WithCopiesDoNotMutate(t *testing.T) {
	base := NewAuthenticationError("token expired")
	coded := base.WithCode("TOKEN_EXPIRED")

	assert.Empty(t, base.Code)
	assert.Equal(t, "TOKEN_EXPIRED", coded.Code)

	cause := errors.New("exp claim in the past")
	caused := base.WithCause(cause)
	assert.Nil(t, base.Cause)
	assert.Equal(t, cause, caused.Cause)
}

func TestAsError(t *testing.T) {
	t.Run("passes through structured errors", func(t *testing.T) {
		orig := NewRateLimitError("slow down")
		got := AsError(fmt.Errorf("context: %w", orig))
		assert.Same(t, orig, got)
	})

	t.Run("maps sentinels to taxonomy", func(t *testing.T) {
		tests := []struct {
			sentinel error
			wantType string
		}{
			{ErrTimeout, TypeTimeout},
			{ErrCircuitOpen, TypeCircuitBreaker},
			{ErrRateLimited, TypeRateLimit},
			{ErrServiceUnavail, TypeServiceUnavailable},
			{ErrNotFound, TypeNotFound},
			{ErrUnauthorized, TypeAuthentication},
			{ErrForbidden, TypeAuthorization},
		}
		for _, tt := range tests {
			got := AsError(fmt.Errorf("op failed: %w", tt.sentinel))
			assert.Equal(t, tt.wantType, got.Type)
		}
	})

	t.Run("unknown errors become internal with generic message", func(t *testing.T) {
		raw := errors.New("pq: connection refused")
		got := AsError(raw)
		assert.Equal(t, TypeInternal, got.Type)
		assert.Equal(t, "internal server error", got.Message)
		assert.ErrorIs(t, got, raw)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrServiceUnavail))
	assert.True(t, IsRetryable(NewBadGatewayError("conn reset")))
	assert.True(t, IsRetryable(NewInternalError("boom")))

	assert.False(t, IsRetryable(NewCircuitBreakerError("open")))
	assert.False(t, IsRetryable(NewBadRequestError("malformed")))
	assert.False(t, IsRetryable(errors.New("unclassified")))
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(NewNotFoundError("missing")))
	assert.True(t, IsClientError(NewRateLimitError("too many")))
	assert.True(t, IsClientError(ErrUnauthorized))
	assert.True(t, IsClientError(fmt.Errorf("wrap: %w", ErrInvalidInput)))

	assert.False(t, IsClientError(NewInternalError("boom")))
	assert.False(t, IsClientError(NewTimeoutError("slow")))
	assert.False(t, IsClientError(errors.New("unclassified")))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	base := errors.New("base")
	wrapped := WrapError(base, "while resolving")
	require.Error(t, wrapped)
	assert.ErrorIs(t, wrapped, base)
	assert.Contains(t, wrapped.Error(), "while resolving")
}
