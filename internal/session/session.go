// Package session tracks refresh sessions per user and device so that
// tokens can be revoked individually or in bulk.
package session

import (
	"context"
	"errors"
	"time"
)

// Store errors.
var (
	// ErrSessionNotFound indicates the session does not exist or has
	// expired.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is one refresh session: a user on a device holding the
// current refresh token. RefreshTokenID tracks the single valid
// refresh token; rotation replaces it.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Device         string    `json:"device"`
	RefreshTokenID string    `json:"refreshTokenId"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	RefreshedAt    time.Time `json:"refreshedAt"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Store persists sessions. Implementations must be safe for concurrent
// use.
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, sess *Session) error

	// Get returns the session by ID.
	Get(ctx context.Context, id string) (*Session, error)

	// GetByRefreshToken returns the session holding the refresh token.
	GetByRefreshToken(ctx context.Context, refreshTokenID string) (*Session, error)

	// Update replaces a stored session.
	Update(ctx context.Context, sess *Session) error

	// Delete removes the session by ID.
	Delete(ctx context.Context, id string) error

	// ListByUser returns all live sessions for the user.
	ListByUser(ctx context.Context, userID string) ([]*Session, error)

	// DeleteByUser removes all sessions for the user, returning the
	// number removed.
	DeleteByUser(ctx context.Context, userID string) (int, error)

	// Close releases store resources.
	Close() error
}
