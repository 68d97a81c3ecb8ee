package cache

import (
	"net/http"
	"sort"
	"strings"
)

// KeyOptions controls cache key construction.
type KeyOptions struct {
	// Prefix namespaces the key.
	Prefix string

	// IgnoreQuery strips the query string from the key.
	IgnoreQuery bool

	// UserID, when non-empty, makes the key vary by caller.
	UserID string
}

// BuildKey produces a deterministic cache key from the request method,
// normalized path, optionally the sorted query string, and optionally
// the authenticated user.
func BuildKey(r *http.Request, opts KeyOptions) string {
	var sb strings.Builder

	if opts.Prefix != "" {
		sb.WriteString(opts.Prefix)
		sb.WriteByte(':')
	}

	sb.WriteString(r.Method)
	sb.WriteByte(':')
	sb.WriteString(normalizePath(r.URL.Path))

	if !opts.IgnoreQuery && r.URL.RawQuery != "" {
		sb.WriteByte('?')
		sb.WriteString(canonicalQuery(r))
	}

	if opts.UserID != "" {
		sb.WriteString(":u:")
		sb.WriteString(opts.UserID)
	}

	return sb.String()
}

// normalizePath collapses a trailing slash so /files and /files/ share
// an entry.
func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// canonicalQuery renders query parameters sorted by key then value so
// parameter order never fragments the cache.
func canonicalQuery(r *http.Request) string {
	query := r.URL.Query()

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	first := true
	for _, k := range keys {
		vals := query[k]
		sort.Strings(vals)
		for _, v := range vals {
			if !first {
				sb.WriteByte('&')
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(v)
			first = false
		}
	}
	return sb.String()
}
