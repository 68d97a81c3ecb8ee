package ratelimit

import (
	"net/http"

	"github.com/cellvista/gateway/internal/util"
)

// KeyFunc derives a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc keys by client IP. This is the default.
func IPKeyFunc(r *http.Request) string {
	return util.GetClientIP(r)
}

// UserKeyFunc keys by authenticated user ID when present, falling back
// to client IP for anonymous callers.
func UserKeyFunc(r *http.Request) string {
	if id := util.IdentityFromContext(r.Context()); id != nil && id.Subject != "" {
		return "user:" + id.Subject
	}
	return "ip:" + util.GetClientIP(r)
}

// KeyFuncFor maps the config keyBy value to a KeyFunc.
func KeyFuncFor(keyBy string) KeyFunc {
	if keyBy == "user" {
		return UserKeyFunc
	}
	return IPKeyFunc
}
