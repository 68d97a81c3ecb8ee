// Package gateway composes the request pipeline and owns the process
// lifecycle: listeners, background workers and store connections.
package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cellvista/gateway/internal/authz"
	"github.com/cellvista/gateway/internal/cache"
	"github.com/cellvista/gateway/internal/circuitbreaker"
	"github.com/cellvista/gateway/internal/config"
	"github.com/cellvista/gateway/internal/health"
	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/proxy"
	"github.com/cellvista/gateway/internal/ratelimit"
	"github.com/cellvista/gateway/internal/registry"
	"github.com/cellvista/gateway/internal/session"
	"github.com/cellvista/gateway/internal/token"
	"github.com/cellvista/gateway/internal/util"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// IdentityProvider verifies primary credentials against the external
// identity backend. The gateway never stores credentials itself.
type IdentityProvider interface {
	Authenticate(ctx context.Context, username, password string) (*util.Identity, error)
}

// Gateway is the composition root: it builds every component from
// configuration and runs the listeners.
type Gateway struct {
	config *config.Config
	logger observability.Logger

	redisClient *redis.Client

	registry      *registry.Registry
	healthChecker *registry.HealthChecker
	breakers      *circuitbreaker.Registry
	proxy         *proxy.ServiceProxy
	limiter       ratelimit.Limiter
	cache         cache.Cache
	authzManager  *authz.Manager
	sessions      session.Store
	blacklist     token.Blacklist
	tokens        *token.Service
	checker       *health.Checker

	identityProvider IdentityProvider
	resourceChecker  authz.ResourceChecker

	mainListener  *Listener
	adminListener *Listener

	state     atomic.Int32
	startTime time.Time
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithIdentityProvider sets the credential verifier used by the login
// endpoint.
func WithIdentityProvider(provider IdentityProvider) Option {
	return func(g *Gateway) {
		g.identityProvider = provider
	}
}

// WithResourceChecker sets the delegated resource permission checker.
func WithResourceChecker(checker authz.ResourceChecker) Option {
	return func(g *Gateway) {
		g.resourceChecker = checker
	}
}

// Version is the gateway build version, set at link time.
var Version = "dev"

// New creates a gateway from configuration. Stores and background
// workers start on Start, not here.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	g := &Gateway{
		config: cfg,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.build(); err != nil {
		return nil, err
	}

	g.state.Store(int32(StateStopped))
	return g, nil
}

// build wires every component from configuration.
func (g *Gateway) build() error {
	cfg := g.config

	if g.needsRedis() {
		g.redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout.Duration(),
			ReadTimeout:  cfg.Redis.ReadTimeout.Duration(),
			WriteTimeout: cfg.Redis.WriteTimeout.Duration(),
		})
	}

	reg, err := registry.FromConfig(cfg.Services, g.logger)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	g.registry = reg
	g.healthChecker = registry.NewHealthChecker(reg, 0, 0, g.logger)

	g.breakers = circuitbreaker.NewRegistry(&circuitbreaker.Config{
		MaxFailures:      cfg.CircuitBreaker.MaxFailures,
		FailureRatio:     cfg.CircuitBreaker.FailureRatio,
		MinRequests:      cfg.CircuitBreaker.MinRequests,
		ResetTimeout:     cfg.CircuitBreaker.ResetTimeout.Duration(),
		CallTimeout:      cfg.CircuitBreaker.CallTimeout.Duration(),
		SamplingDuration: cfg.CircuitBreaker.SamplingDuration.Duration(),
	}, g.logger)

	g.proxy = proxy.New(reg, g.breakers,
		proxy.WithLogger(g.logger),
		proxy.WithProduction(cfg.Production),
	)

	if cfg.RateLimit.Enabled {
		limiterCfg := &ratelimit.Config{
			Window: cfg.RateLimit.Window.Duration(),
			Max:    cfg.RateLimit.Max,
		}
		if cfg.RateLimit.Store == config.StoreTypeRedis {
			g.limiter = ratelimit.NewRedisLimiter(g.redisClient, limiterCfg, "", g.logger)
		} else {
			g.limiter = ratelimit.NewFixedWindowLimiter(limiterCfg, g.logger)
		}
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.Type == config.StoreTypeRedis {
			g.cache = cache.NewRedisCache(g.redisClient, cfg.Cache.KeyPrefix, g.logger)
		} else {
			g.cache = cache.NewMemoryCache(cfg.Cache.MaxEntries, g.logger)
		}
	}

	authzOpts := []authz.ManagerOption{
		authz.WithLogger(g.logger),
		authz.WithSuperuserRole(cfg.Token.SuperuserRole),
	}
	if g.resourceChecker != nil {
		authzOpts = append(authzOpts, authz.WithResourceChecker(g.resourceChecker))
	}
	g.authzManager = authz.FromConfig(cfg.Routes, authzOpts...)

	if cfg.Token.Store == config.StoreTypeRedis {
		g.sessions = session.NewRedisStore(g.redisClient, g.logger)
		g.blacklist = token.NewRedisBlacklist(g.redisClient)
	} else {
		g.sessions = session.NewMemoryStore(g.logger)
		g.blacklist = token.NewMemoryBlacklist()
	}

	tokens, err := token.NewService(
		cfg.Token.Secret,
		cfg.Token.Issuer,
		cfg.Token.AccessTTL.Duration(),
		cfg.Token.RefreshTTL.Duration(),
		g.sessions,
		g.blacklist,
		token.WithLogger(g.logger),
	)
	if err != nil {
		return fmt.Errorf("build token service: %w", err)
	}
	g.tokens = tokens

	g.checker = health.NewChecker(Version, reg)
	if g.redisClient != nil {
		client := g.redisClient
		g.checker.RegisterCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	mainHandler := g.buildPipeline()
	g.mainListener = NewListener("main", cfg.Listen.Address, mainHandler,
		WithListenTimeouts(cfg.Listen.ReadTimeout.Duration(), cfg.Listen.WriteTimeout.Duration(), cfg.Listen.IdleTimeout.Duration()),
		WithListenerLogger(g.logger),
	)
	g.adminListener = NewListener("admin", cfg.Admin.Address, g.buildAdminHandler(),
		WithListenerLogger(g.logger),
	)

	return nil
}

func (g *Gateway) needsRedis() bool {
	cfg := g.config
	return cfg.RateLimit.Store == config.StoreTypeRedis ||
		cfg.Cache.Type == config.StoreTypeRedis ||
		cfg.Token.Store == config.StoreTypeRedis
}

// Start launches the listeners and background workers.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	g.startTime = time.Now()
	g.healthChecker.Start(ctx)

	if err := g.adminListener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return err
	}
	if err := g.mainListener.Start(ctx); err != nil {
		_ = g.adminListener.Stop(ctx)
		g.state.Store(int32(StateStopped))
		return err
	}

	g.state.Store(int32(StateRunning))
	g.logger.Info("gateway started",
		observability.String("listen", g.config.Listen.Address),
		observability.String("admin", g.config.Admin.Address),
	)
	return nil
}

// Stop drains in-flight requests and releases every resource. It
// honors the context deadline: when drain exceeds it, listeners are
// closed forcibly.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("gateway is not running")
	}
	defer g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopping")

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(g.mainListener.Stop(ctx))
	record(g.adminListener.Stop(ctx))

	g.healthChecker.Stop()

	if g.limiter != nil {
		record(g.limiter.Close())
	}
	if g.cache != nil {
		record(g.cache.Close())
	}
	record(g.sessions.Close())
	record(g.blacklist.Close())
	if g.redisClient != nil {
		record(g.redisClient.Close())
	}

	g.logger.Info("gateway stopped")
	return firstErr
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// Reload applies a new configuration to the hot-reloadable parts:
// services and route rules. Listener and store topology changes
// require a restart.
func (g *Gateway) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := g.registry.Reload(cfg.Services); err != nil {
		return fmt.Errorf("reload services: %w", err)
	}
	g.authzManager.Reload(cfg.Routes)
	// Rule reload replaces the whole table, so the built-in token
	// endpoint rules must be restored.
	g.registerAuthRules()

	g.logger.Info("configuration reloaded",
		observability.Int("services", len(cfg.Services)),
		observability.Int("routes", len(cfg.Routes)),
	)
	return nil
}
