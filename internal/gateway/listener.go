package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cellvista/gateway/internal/observability"
)

// Listener wraps one HTTP server.
type Listener struct {
	name    string
	addr    string
	handler http.Handler
	server  *http.Server
	logger  observability.Logger
	running atomic.Bool

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// ListenerOption is a functional option for configuring a listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for the listener.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// WithListenTimeouts sets the server timeouts; zero values keep the
// defaults.
func WithListenTimeouts(read, write, idle time.Duration) ListenerOption {
	return func(l *Listener) {
		if read > 0 {
			l.readTimeout = read
		}
		if write > 0 {
			l.writeTimeout = write
		}
		if idle > 0 {
			l.idleTimeout = idle
		}
	}
}

// NewListener creates a listener serving handler on addr.
func NewListener(name, addr string, handler http.Handler, opts ...ListenerOption) *Listener {
	l := &Listener{
		name:         name,
		addr:         addr,
		handler:      handler,
		logger:       observability.NopLogger(),
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Addr returns the listener address.
func (l *Listener) Addr() string {
	return l.addr
}

// Start binds the address and begins serving. It returns once the
// socket is bound; serving continues in the background.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener %s is already running", l.name)
	}

	l.server = &http.Server{
		Addr:              l.addr,
		Handler:           l.handler,
		ReadTimeout:       l.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      l.writeTimeout,
		IdleTimeout:       l.idleTimeout,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.addr, err)
	}

	l.running.Store(true)
	l.logger.Info("listener started",
		observability.String("name", l.name),
		observability.String("addr", ln.Addr().String()),
	)

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("listener failed",
				observability.String("name", l.name),
				observability.Error(err),
			)
		}
	}()

	return nil
}

// Stop drains in-flight requests until the context deadline, then
// closes remaining connections.
func (l *Listener) Stop(ctx context.Context) error {
	if !l.running.CompareAndSwap(true, false) {
		return nil
	}

	err := l.server.Shutdown(ctx)
	if err != nil {
		// Drain deadline exceeded, force-close what remains.
		closeErr := l.server.Close()
		if closeErr != nil {
			return closeErr
		}
		return err
	}

	l.logger.Info("listener stopped", observability.String("name", l.name))
	return nil
}
