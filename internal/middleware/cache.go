package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cellvista/gateway/internal/cache"
	"github.com/cellvista/gateway/internal/config"
	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/util"
)

// maxCacheBodySize is the maximum response body size that will be
// buffered for caching. Larger responses are forwarded to the client
// but not stored.
const maxCacheBodySize = 10 << 20 // 10MB

// cacheWriteTimeout bounds the detached store after the response has
// been sent.
const cacheWriteTimeout = 5 * time.Second

// CacheOptions configures the response caching middleware.
type CacheOptions struct {
	// TTL is how long entries live. Zero selects 60 seconds.
	TTL time.Duration

	// KeyPrefix namespaces the cache keys.
	KeyPrefix string

	// IgnoreQueryParams drops the query string from cache keys.
	IgnoreQueryParams bool

	// VaryByUser includes the authenticated subject in cache keys, so
	// users never see each other's responses.
	VaryByUser bool

	// StatusCodes lists the response codes eligible for caching.
	// Empty means only 200.
	StatusCodes []int
}

// cachedResponse holds a serialized HTTP response for cache storage.
type cachedResponse struct {
	StatusCode int                 `json:"statusCode"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

type cacheMiddleware struct {
	cache       cache.Cache
	logger      observability.Logger
	ttl         time.Duration
	keyPrefix   string
	ignoreQuery bool
	varyByUser  bool
	statusCodes map[int]struct{}
}

// Cache returns a middleware that caches GET responses. Hits are
// marked with X-Cache: HIT; stores happen after the response is sent
// and never delay or fail the request.
func Cache(c cache.Cache, logger observability.Logger, opts CacheOptions) func(http.Handler) http.Handler {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}

	codes := make(map[int]struct{})
	if len(opts.StatusCodes) == 0 {
		codes[http.StatusOK] = struct{}{}
	} else {
		for _, code := range opts.StatusCodes {
			codes[code] = struct{}{}
		}
	}

	cm := &cacheMiddleware{
		cache:       c,
		logger:      logger,
		ttl:         ttl,
		keyPrefix:   opts.KeyPrefix,
		ignoreQuery: opts.IgnoreQueryParams,
		varyByUser:  opts.VaryByUser,
		statusCodes: codes,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cm.isCacheable(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := cm.buildKey(r)
			w.Header().Set(HeaderXCacheKey, key)

			if cm.serveCachedResponse(w, r, key) {
				return
			}

			w.Header().Set(HeaderXCache, "MISS")
			cm.captureAndCache(w, r, next, key)
		})
	}
}

// CacheFromConfig builds the caching middleware from gateway
// configuration, degrading to a pass-through when disabled.
func CacheFromConfig(c cache.Cache, cfg *config.CacheConfig, logger observability.Logger) func(http.Handler) http.Handler {
	if c == nil || cfg == nil || !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	return Cache(c, logger, CacheOptions{
		TTL:               cfg.TTL.Duration(),
		KeyPrefix:         cfg.KeyPrefix,
		IgnoreQueryParams: cfg.IgnoreQuery,
		VaryByUser:        cfg.VaryByUser,
		StatusCodes:       cfg.StatusCodes,
	})
}

func (cm *cacheMiddleware) isCacheable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	cc := r.Header.Get("Cache-Control")
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "no-cache")
}

func (cm *cacheMiddleware) buildKey(r *http.Request) string {
	opts := cache.KeyOptions{
		Prefix:      cm.keyPrefix,
		IgnoreQuery: cm.ignoreQuery,
	}
	if cm.varyByUser {
		if identity := util.IdentityFromContext(r.Context()); identity != nil {
			opts.UserID = identity.Subject
		}
	}
	return cache.BuildKey(r, opts)
}

// serveCachedResponse attempts to serve a response from cache.
// Returns true if a cached response was served.
func (cm *cacheMiddleware) serveCachedResponse(w http.ResponseWriter, r *http.Request, key string) bool {
	data, err := cm.cache.Get(r.Context(), key)
	if err != nil {
		return false
	}

	var cached cachedResponse
	if jsonErr := json.Unmarshal(data, &cached); jsonErr != nil {
		cm.logger.Debug("cache deserialization failed, treating as miss",
			observability.String("key", key),
		)
		return false
	}

	for k, vals := range cached.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderXCache, "HIT")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)

	cm.logger.Debug("cache hit",
		observability.String("key", key),
		observability.String("path", r.URL.Path),
	)
	return true
}

// captureAndCache runs the handler, then stores the captured response
// in the background.
func (cm *cacheMiddleware) captureAndCache(w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	recorder := &cacheResponseRecorder{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}

	next.ServeHTTP(recorder, r)

	if _, ok := cm.statusCodes[recorder.statusCode]; !ok {
		return
	}

	if recorder.bufferExceeded {
		cm.logger.Debug("response too large to cache",
			observability.String("key", key),
			observability.String("path", r.URL.Path),
		)
		return
	}

	cached := cachedResponse{
		StatusCode: recorder.statusCode,
		Headers:    cloneHeaders(recorder.Header()),
		Body:       recorder.body.Bytes(),
	}
	// The client never carries cache markers from a previous hop.
	delete(cached.Headers, HeaderXCache)
	delete(cached.Headers, HeaderXCacheKey)

	serialized, err := json.Marshal(cached)
	if err != nil {
		return
	}

	go cm.store(key, serialized, r.URL.Path)
}

// store writes the entry detached from the request. Failures are
// logged and counted but never surfaced.
func (cm *cacheMiddleware) store(key string, serialized []byte, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()

	if err := cm.cache.Set(ctx, key, serialized, cm.ttl); err != nil {
		cache.RecordWriteFailure("middleware")
		cm.logger.Debug("failed to store response in cache",
			observability.String("key", key),
			observability.String("path", path),
			observability.Error(err),
		)
	}
}

func cloneHeaders(h http.Header) map[string][]string {
	clone := make(map[string][]string, len(h))
	for k, v := range h {
		vc := make([]string, len(v))
		copy(vc, v)
		clone[k] = vc
	}
	return clone
}

// cacheResponseRecorder captures the response for caching while also
// writing it through to the client.
type cacheResponseRecorder struct {
	http.ResponseWriter
	statusCode     int
	body           *bytes.Buffer
	bufferExceeded bool
	headerWritten  bool
}

func (rec *cacheResponseRecorder) WriteHeader(code int) {
	if rec.headerWritten {
		return
	}
	rec.statusCode = code
	rec.headerWritten = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *cacheResponseRecorder) Write(b []byte) (int, error) {
	if !rec.headerWritten {
		rec.WriteHeader(http.StatusOK)
	}
	if !rec.bufferExceeded {
		if rec.body.Len()+len(b) > maxCacheBodySize {
			rec.bufferExceeded = true
			rec.body.Reset()
		} else {
			rec.body.Write(b)
		}
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *cacheResponseRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
