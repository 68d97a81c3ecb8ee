// Package middleware provides HTTP middleware components for the
// gateway's request pipeline.
package middleware

// HTTP header constants.
const (
	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"

	// HeaderAuthorization is the Authorization header name.
	HeaderAuthorization = "Authorization"

	// HeaderRetryAfter is the Retry-After header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXRequestID is the X-Request-ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXRateLimitLimit is the X-RateLimit-Limit header name.
	HeaderXRateLimitLimit = "X-RateLimit-Limit"

	// HeaderXRateLimitRemaining is the X-RateLimit-Remaining header name.
	HeaderXRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderXRateLimitReset is the X-RateLimit-Reset header name.
	HeaderXRateLimitReset = "X-RateLimit-Reset"

	// HeaderXCache is the X-Cache header name.
	HeaderXCache = "X-Cache"

	// HeaderXCacheKey is the X-Cache-Key header name.
	HeaderXCacheKey = "X-Cache-Key"
)

// Content type constants.
const (
	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

// bearerPrefix is the expected Authorization scheme prefix.
const bearerPrefix = "Bearer "
