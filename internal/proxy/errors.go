package proxy

import "errors"

// Proxy errors surfaced to the error handler.
var (
	// ErrServiceUnavailable indicates the target service could not be
	// resolved or is unhealthy.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrBadGateway indicates a transport failure talking to the
	// upstream service.
	ErrBadGateway = errors.New("bad gateway")

	// ErrGatewayTimeout indicates the upstream did not respond within
	// the configured timeout.
	ErrGatewayTimeout = errors.New("gateway timeout")
)
