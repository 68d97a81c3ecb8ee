package util

import (
	"context"
	"time"
)

type contextKey string

const (
	identityKey  contextKey = "identity"
	serviceKey   contextKey = "service"
	startTimeKey contextKey = "start_time"
)

// Identity is the authenticated caller attached to the request context
// by the authentication stage.
type Identity struct {
	// Subject is the authenticated user ID.
	Subject string

	// Roles are the caller's roles.
	Roles []string

	// Permissions are the caller's granted permissions.
	Permissions []string

	// SessionID is the session the access token was minted under.
	SessionID string
}

// HasRole reports whether the identity carries the given role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ContextWithIdentity attaches an identity to the context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity from context, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return nil
}

// ContextWithService attaches the resolved backend service name.
func ContextWithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, serviceKey, service)
}

// ServiceFromContext returns the backend service name, or "".
func ServiceFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(serviceKey).(string); ok {
		return s
	}
	return ""
}

// ContextWithStartTime attaches the request start time.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, t)
}

// StartTimeFromContext returns the request start time, or the zero time.
func StartTimeFromContext(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}
