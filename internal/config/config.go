// Package config defines the gateway configuration model and loader.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Store type names for TTL-capable stores.
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// Config is the root gateway configuration.
type Config struct {
	Listen         ListenConfig              `yaml:"listen"`
	Admin          AdminConfig               `yaml:"admin"`
	Production     bool                      `yaml:"production"`
	Services       []ServiceConfig           `yaml:"services"`
	RateLimit      RateLimitConfig           `yaml:"rateLimit"`
	Cache          CacheConfig               `yaml:"cache"`
	CircuitBreaker CircuitBreakerConfig      `yaml:"circuitBreaker"`
	Token          TokenConfig               `yaml:"token"`
	Routes         []RoutePermissionConfig   `yaml:"routes"`
	Redis          RedisConfig               `yaml:"redis"`
	Shutdown       ShutdownConfig            `yaml:"shutdown"`
}

// ListenConfig configures the main HTTP listener.
type ListenConfig struct {
	Address      string   `yaml:"address"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
	IdleTimeout  Duration `yaml:"idleTimeout"`
}

// AdminConfig configures the admin listener (health, metrics).
type AdminConfig struct {
	Address string `yaml:"address"`
}

// ServiceConfig declares a backend service known to the registry.
type ServiceConfig struct {
	Name        string            `yaml:"name"`
	BaseURL     string            `yaml:"baseUrl"`
	Prefix      string            `yaml:"prefix"`
	Rewrite     string            `yaml:"rewrite"`
	HealthPath  string            `yaml:"healthPath"`
	Metadata    map[string]string `yaml:"metadata"`
	Timeout     Duration          `yaml:"timeout"`
}

// RateLimitConfig configures the fixed-window rate limiter.
type RateLimitConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Window     Duration `yaml:"window"`
	Max        int      `yaml:"max"`
	KeyBy      string   `yaml:"keyBy"` // "ip" or "user"
	SkipPaths  []string `yaml:"skipPaths"`
	Store      string   `yaml:"store"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Type        string   `yaml:"type"`
	TTL         Duration `yaml:"ttl"`
	KeyPrefix   string   `yaml:"keyPrefix"`
	MaxEntries  int      `yaml:"maxEntries"`
	VaryByUser  bool     `yaml:"varyByUser"`
	IgnoreQuery bool     `yaml:"ignoreQuery"`
	StatusCodes []int    `yaml:"statusCodes"`
}

// CircuitBreakerConfig configures per-service circuit breakers.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	FailureRatio     float64  `yaml:"failureRatio"`
	MinRequests      int      `yaml:"minRequests"`
	MaxFailures      int      `yaml:"maxFailures"`
	ResetTimeout     Duration `yaml:"resetTimeout"`
	CallTimeout      Duration `yaml:"callTimeout"`
	SamplingDuration Duration `yaml:"samplingDuration"`
}

// TokenConfig configures the token service.
type TokenConfig struct {
	Secret          string   `yaml:"secret"`
	Issuer          string   `yaml:"issuer"`
	AccessTTL       Duration `yaml:"accessTtl"`
	RefreshTTL      Duration `yaml:"refreshTtl"`
	Store           string   `yaml:"store"`
	SuperuserRole   string   `yaml:"superuserRole"`
}

// RoutePermissionConfig declares a route authorization rule.
type RoutePermissionConfig struct {
	Path           string   `yaml:"path"`
	Method         string   `yaml:"method"`
	Roles          []string `yaml:"roles"`
	Permissions    []string `yaml:"permissions"`
	Resource       string   `yaml:"resource"`
	Action         string   `yaml:"action"`
	Public         bool     `yaml:"public"`
}

// RedisConfig configures the shared Redis connection used by the
// Redis-backed stores.
type RedisConfig struct {
	Address      string   `yaml:"address"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	PoolSize     int      `yaml:"poolSize"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	GracePeriod Duration `yaml:"gracePeriod"`
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Address:      ":8080",
			ReadTimeout:  Duration(30 * time.Second),
			WriteTimeout: Duration(60 * time.Second),
			IdleTimeout:  Duration(120 * time.Second),
		},
		Admin: AdminConfig{Address: ":9090"},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Window:  Duration(time.Minute),
			Max:     100,
			KeyBy:   "ip",
			Store:   StoreTypeMemory,
		},
		Cache: CacheConfig{
			Enabled:     true,
			Type:        StoreTypeMemory,
			TTL:         Duration(60 * time.Second),
			KeyPrefix:   "gw",
			MaxEntries:  10000,
			StatusCodes: []int{200},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureRatio:     0.5,
			MinRequests:      5,
			MaxFailures:      5,
			ResetTimeout:     Duration(30 * time.Second),
			CallTimeout:      Duration(10 * time.Second),
			SamplingDuration: Duration(time.Minute),
		},
		Token: TokenConfig{
			Issuer:        "cellvista-gateway",
			AccessTTL:     Duration(15 * time.Minute),
			RefreshTTL:    Duration(7 * 24 * time.Hour),
			Store:         StoreTypeMemory,
			SuperuserRole: "admin",
		},
		Shutdown: ShutdownConfig{GracePeriod: Duration(30 * time.Second)},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}

	seen := make(map[string]struct{}, len(c.Services))
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		if _, dup := seen[svc.Name]; dup {
			return fmt.Errorf("services[%d]: duplicate service name %q", i, svc.Name)
		}
		seen[svc.Name] = struct{}{}
		if svc.BaseURL == "" {
			return fmt.Errorf("service %s: baseUrl is required", svc.Name)
		}
		if !strings.HasPrefix(svc.BaseURL, "http://") && !strings.HasPrefix(svc.BaseURL, "https://") {
			return fmt.Errorf("service %s: baseUrl must be an http(s) URL", svc.Name)
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.Max <= 0 {
		return fmt.Errorf("rateLimit.max must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.Window.Duration() <= 0 {
		return fmt.Errorf("rateLimit.window must be positive")
	}

	if c.CircuitBreaker.FailureRatio < 0 || c.CircuitBreaker.FailureRatio > 1 {
		return fmt.Errorf("circuitBreaker.failureRatio must be within [0,1]")
	}

	if c.Token.Secret == "" {
		return fmt.Errorf("token.secret is required")
	}

	for i, rt := range c.Routes {
		if rt.Path == "" || rt.Method == "" {
			return fmt.Errorf("routes[%d]: path and method are required", i)
		}
	}

	if (c.RateLimit.Store == StoreTypeRedis || c.Cache.Type == StoreTypeRedis ||
		c.Token.Store == StoreTypeRedis) && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when a redis store is configured")
	}

	return nil
}
