package token

import "errors"

// Token service errors.
var (
	// ErrInvalidToken indicates the token failed signature or claim
	// validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked indicates the token has been revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrRefreshReused indicates a rotated-out refresh token was
	// presented again. The session is revoked when this happens.
	ErrRefreshReused = errors.New("refresh token already used")

	// ErrSessionExpired indicates the refresh session no longer exists.
	ErrSessionExpired = errors.New("session expired")

	// ErrWrongTokenType indicates an access token was used where a
	// refresh token was expected, or vice versa.
	ErrWrongTokenType = errors.New("wrong token type")
)
