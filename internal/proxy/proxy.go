// Package proxy provides HTTP reverse proxy functionality with per
// service circuit breaking and transport-level retries.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cellvista/gateway/internal/circuitbreaker"
	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/registry"
	"github.com/cellvista/gateway/internal/retry"
	"github.com/cellvista/gateway/internal/util"
)

// proxyTracer is the OTEL tracer used for proxy operations.
var proxyTracer = otel.Tracer("gateway/proxy")

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServiceProxy forwards requests to registered backend services. Each
// service gets its own circuit breaker; upstream responses are relayed
// verbatim, including error statuses.
type ServiceProxy struct {
	registry   *registry.Registry
	breakers   *circuitbreaker.Registry
	transport  http.RoundTripper
	retryCfg   *retry.Config
	production bool
	logger     observability.Logger
}

// Option is a functional option for configuring the proxy.
type Option func(*ServiceProxy)

// WithLogger sets the logger for the proxy.
func WithLogger(logger observability.Logger) Option {
	return func(p *ServiceProxy) {
		p.logger = logger
	}
}

// WithTransport sets the transport used for upstream calls.
func WithTransport(transport http.RoundTripper) Option {
	return func(p *ServiceProxy) {
		p.transport = transport
	}
}

// WithRetryConfig sets the retry policy for transport failures.
func WithRetryConfig(cfg *retry.Config) Option {
	return func(p *ServiceProxy) {
		p.retryCfg = cfg
	}
}

// WithProduction controls whether error envelopes carry stack traces
// and cause details. In production they carry neither.
func WithProduction(production bool) Option {
	return func(p *ServiceProxy) {
		p.production = production
	}
}

// New creates a service proxy over the registry and breaker registry.
func New(reg *registry.Registry, breakers *circuitbreaker.Registry, opts ...Option) *ServiceProxy {
	p := &ServiceProxy{
		registry: reg,
		breakers: breakers,
		logger:   observability.NopLogger(),
		retryCfg: retry.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.transport == nil {
		p.transport = defaultTransport()
	}

	return p
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Forward proxies the request to the named service and writes the
// upstream response to w. Resolution failures produce 503, transport
// failures 502, and upstream timeouts 504; everything the upstream
// actually returns is relayed as-is.
func (p *ServiceProxy) Forward(w http.ResponseWriter, r *http.Request, serviceName string) {
	ctx, span := proxyTracer.Start(r.Context(), "proxy.forward",
		trace.WithAttributes(
			attribute.String("service", serviceName),
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		),
	)
	defer span.End()

	start := time.Now()

	entry, err := p.registry.Resolve(serviceName)
	if err != nil {
		span.AddEvent("resolve failed")
		p.writeError(w, r, util.NewServiceUnavailableError(
			fmt.Sprintf("service %s is not available", serviceName)).WithCause(err))
		requestsTotal.WithLabelValues(serviceName, r.Method, "503").Inc()
		return
	}

	resp, err := p.roundTrip(ctx, r, entry)
	if err != nil {
		p.handleUpstreamError(w, r, serviceName, err, span)
		return
	}
	defer resp.Body.Close()

	p.relay(w, resp)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	requestsTotal.WithLabelValues(serviceName, r.Method, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	requestDuration.WithLabelValues(serviceName, r.Method).Observe(time.Since(start).Seconds())
}

// roundTrip performs the breaker-wrapped upstream call, retrying
// transport failures. Responses with status >= 500 count against the
// breaker but are still returned for relay.
func (p *ServiceProxy) roundTrip(ctx context.Context, r *http.Request, entry *registry.ServiceEntry) (*http.Response, error) {
	breaker := p.breakers.GetOrCreateWithTimeout(entry.Name, entry.Timeout)

	body, err := bufferBody(r)
	if err != nil {
		return nil, err
	}

	// The breaker may abandon fn on timeout. The slot hands the
	// response over with a compare-and-swap so exactly one side owns
	// the body: a late write against an abandoned slot closes it.
	var respSlot atomic.Pointer[http.Response]
	execErr := breaker.Execute(ctx, func(callCtx context.Context) error {
		return retry.Do(callCtx, p.retryCfg, func() error {
			req, err := p.buildUpstreamRequest(callCtx, r, entry, body)
			if err != nil {
				return err
			}

			res, err := p.transport.RoundTrip(req)
			if err != nil {
				return err
			}

			if !respSlot.CompareAndSwap(nil, res) {
				// The caller already gave up on this call.
				res.Body.Close()
				return callCtx.Err()
			}
			if res.StatusCode >= http.StatusInternalServerError {
				// Failure for the breaker; the caller still relays it.
				return &upstreamStatusError{status: res.StatusCode}
			}
			return nil
		},
			retry.WithCheck(retry.IsNetworkError),
			retry.WithHook(func(retryNumber int, err error, delay time.Duration) {
				retriesTotal.WithLabelValues(entry.Name).Inc()
				p.logger.Warn("retrying upstream request",
					observability.String("service", entry.Name),
					observability.Int("attempt", retryNumber),
					observability.Duration("backoff", delay),
					observability.Error(err),
				)
			}),
		)
	})

	resp := respSlot.Load()
	if resp == nil && !respSlot.CompareAndSwap(nil, abandonedResponse) {
		resp = respSlot.Load()
	}

	// A 5xx response was received; surface it to the caller even
	// though the breaker recorded a failure.
	var statusErr *upstreamStatusError
	if errors.As(execErr, &statusErr) && resp != nil {
		return resp, nil
	}

	if execErr != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, execErr
	}
	return resp, nil
}

// abandonedResponse seals a slot whose caller has stopped waiting.
// Its pointer identity is all that matters; it is never dereferenced.
var abandonedResponse = new(http.Response)

// upstreamStatusError marks a received 5xx response as a breaker
// failure without discarding the response.
type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.status)
}

// bufferBody reads the request body so retries can replay it.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// buildUpstreamRequest clones the inbound request toward the service
// base URL, rewriting the path prefix and forwarding headers.
func (p *ServiceProxy) buildUpstreamRequest(ctx context.Context, r *http.Request, entry *registry.ServiceEntry, body []byte) (*http.Request, error) {
	target := *entry.BaseURL
	target.Path = singleJoin(entry.BaseURL.Path, RewritePath(r.URL.Path, entry.Prefix, entry.Rewrite))
	target.RawQuery = r.URL.RawQuery

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}

	copyHeaders(req.Header, r.Header)
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	clientIP := util.GetClientIP(r)
	if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
		req.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	if r.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	req.Header.Set("X-Forwarded-Host", r.Host)
	req.Host = target.Host

	return req, nil
}

// relay writes the upstream response to the client verbatim.
func (p *ServiceProxy) relay(w http.ResponseWriter, resp *http.Response) {
	header := w.Header()
	copyHeaders(header, resp.Header)
	for _, h := range hopHeaders {
		header.Del(h)
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("response relay interrupted", observability.Error(err))
	}
}

func (p *ServiceProxy) handleUpstreamError(w http.ResponseWriter, r *http.Request, serviceName string, err error, span trace.Span) {
	span.AddEvent("upstream call failed")

	var appErr *util.Error
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		appErr = util.NewCircuitBreakerError(
			fmt.Sprintf("service %s is temporarily unavailable", serviceName)).WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		appErr = util.NewTimeoutError(
			fmt.Sprintf("service %s did not respond in time", serviceName)).WithCause(err)
	default:
		appErr = util.NewBadGatewayError(
			fmt.Sprintf("error communicating with service %s", serviceName)).WithCause(err)
	}

	p.logger.Warn("upstream request failed",
		observability.String("service", serviceName),
		observability.String("path", r.URL.Path),
		observability.Error(err),
	)

	requestsTotal.WithLabelValues(serviceName, r.Method, fmt.Sprintf("%d", appErr.Status)).Inc()
	p.writeError(w, r, appErr)
}

func (p *ServiceProxy) writeError(w http.ResponseWriter, r *http.Request, err *util.Error) {
	writer := &util.EnvelopeWriter{Production: p.production, Logger: p.logger}
	writer.Write(w, r, err)
}

// RewritePath strips the service prefix from path, optionally replacing
// it with the rewrite prefix. A path outside the prefix passes through
// unchanged.
func RewritePath(path, prefix, rewrite string) string {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return path
	}

	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		rest = "/"
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}

	if rewrite != "" {
		return singleJoin(rewrite, rest)
	}
	return rest
}

func singleJoin(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

// Target returns the absolute upstream URL Forward would use for the
// given request, mainly for logging and tests.
func (p *ServiceProxy) Target(r *http.Request, entry *registry.ServiceEntry) *url.URL {
	target := *entry.BaseURL
	target.Path = singleJoin(entry.BaseURL.Path, RewritePath(r.URL.Path, entry.Prefix, entry.Rewrite))
	target.RawQuery = r.URL.RawQuery
	return &target
}
