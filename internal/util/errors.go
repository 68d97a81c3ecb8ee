// Package util provides shared utilities for the gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNotFound.
//   - The structured Error type for context-rich errors that carry a
//     taxonomy type, HTTP status and machine-readable code. It
//     implements Error(), Unwrap() and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Common sentinel errors.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrTimeout        = errors.New("timeout")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
)

// Error taxonomy type names. These appear verbatim in the error envelope's
// error.type field and are part of the public API contract.
const (
	TypeValidation         = "ValidationError"
	TypeAuthentication     = "AuthenticationError"
	TypeAuthorization      = "AuthorizationError"
	TypeNotFound           = "NotFoundError"
	TypeRateLimit          = "RateLimitError"
	TypeServiceUnavailable = "ServiceUnavailableError"
	TypeTimeout            = "TimeoutError"
	TypeCircuitBreaker     = "CircuitBreakerError"
	TypeBadRequest         = "BadRequestError"
	TypeInternal           = "InternalServerError"
)

// Error is a structured gateway error carrying taxonomy information.
type Error struct {
	// Type is the taxonomy type name (e.g. "RateLimitError").
	Type string

	// Message is the human-readable message.
	Message string

	// Code is a short machine-readable code (e.g. "TOKEN_EXPIRED").
	Code string

	// Status is the HTTP status the error maps to.
	Status int

	// Cause is the wrapped underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *Error) Is(target error) bool {
	var ge *Error
	if errors.As(target, &ge) {
		return ge.Type == e.Type
	}
	return errors.Is(e.Cause, target)
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.Cause = cause
	return &clone
}

// WithCode returns a copy of the error with the given code.
func (e *Error) WithCode(code string) *Error {
	clone := *e
	clone.Code = code
	return &clone
}

// NewValidationError creates a ValidationError (422).
func NewValidationError(message string) *Error {
	return &Error{Type: TypeValidation, Message: message, Status: http.StatusUnprocessableEntity}
}

// NewAuthenticationError creates an AuthenticationError (401).
func NewAuthenticationError(message string) *Error {
	return &Error{Type: TypeAuthentication, Message: message, Status: http.StatusUnauthorized}
}

// NewAuthorizationError creates an AuthorizationError (403).
func NewAuthorizationError(message string) *Error {
	return &Error{Type: TypeAuthorization, Message: message, Status: http.StatusForbidden}
}

// NewNotFoundError creates a NotFoundError (404).
func NewNotFoundError(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message, Status: http.StatusNotFound}
}

// NewRateLimitError creates a RateLimitError (429).
func NewRateLimitError(message string) *Error {
	return &Error{Type: TypeRateLimit, Message: message, Status: http.StatusTooManyRequests}
}

// NewServiceUnavailableError creates a ServiceUnavailableError (503).
func NewServiceUnavailableError(message string) *Error {
	return &Error{Type: TypeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable}
}

// NewTimeoutError creates a TimeoutError (504).
func NewTimeoutError(message string) *Error {
	return &Error{Type: TypeTimeout, Message: message, Status: http.StatusGatewayTimeout}
}

// NewCircuitBreakerError creates a CircuitBreakerError (503).
func NewCircuitBreakerError(message string) *Error {
	return &Error{Type: TypeCircuitBreaker, Message: message, Status: http.StatusServiceUnavailable}
}

// NewBadRequestError creates a BadRequestError (400).
func NewBadRequestError(message string) *Error {
	return &Error{Type: TypeBadRequest, Message: message, Status: http.StatusBadRequest}
}

// NewInternalError creates an InternalServerError (500).
func NewInternalError(message string) *Error {
	return &Error{Type: TypeInternal, Message: message, Status: http.StatusInternalServerError}
}

// NewBadGatewayError creates an InternalServerError-class error with a
// 502 status, used when a backend connection fails at the network level.
func NewBadGatewayError(message string) *Error {
	return &Error{Type: TypeServiceUnavailable, Message: message, Status: http.StatusBadGateway}
}

// AsError converts any error into a structured *Error. Unknown errors
// become InternalServerError so no raw error ever reaches a caller.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	switch {
	case errors.Is(err, ErrTimeout):
		return NewTimeoutError(err.Error())
	case errors.Is(err, ErrCircuitOpen):
		return NewCircuitBreakerError(err.Error())
	case errors.Is(err, ErrRateLimited):
		return NewRateLimitError(err.Error())
	case errors.Is(err, ErrServiceUnavail):
		return NewServiceUnavailableError(err.Error())
	case errors.Is(err, ErrNotFound):
		return NewNotFoundError(err.Error())
	case errors.Is(err, ErrUnauthorized):
		return NewAuthenticationError(err.Error())
	case errors.Is(err, ErrForbidden):
		return NewAuthorizationError(err.Error())
	default:
		return NewInternalError("internal server error").WithCause(err)
	}
}

// IsRetryable returns true if the error is a transient network-class
// failure worth retrying. Client errors (4xx) are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrServiceUnavail) {
		return true
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Status >= http.StatusInternalServerError &&
			ge.Type != TypeCircuitBreaker
	}
	return false
}

// IsClientError returns true if the error maps to a 4xx status.
func IsClientError(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Status >= 400 && ge.Status < 500
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden)
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
