package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// IsNetworkError reports whether the error is a transport-level failure
// where no response was received, as opposed to a response carried back
// from the upstream. Only these failures are safe to retry at the
// gateway without duplicating upstream side effects.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation is the caller giving up, not the network.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return IsNetworkError(urlErr.Err)
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}
