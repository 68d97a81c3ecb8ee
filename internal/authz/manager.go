// Package authz implements route-level authorization: request paths are
// matched against registered rules and the caller's identity is checked
// against the rule's requirements.
package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cellvista/gateway/internal/config"
	"github.com/cellvista/gateway/internal/observability"
	"github.com/cellvista/gateway/internal/util"
)

// authzTracer is the OTEL tracer used for authorization operations.
var authzTracer = otel.Tracer("gateway/authz")

// Decision represents an authorization decision.
type Decision struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// Reason is the reason for the decision.
	Reason string

	// Rule is the matched rule pattern, empty when nothing matched.
	Rule string
}

// ResourceChecker answers resource/action access questions for rules
// that carry a resource requirement.
type ResourceChecker interface {
	CheckAccess(ctx context.Context, subject, resource, action string) (bool, error)
}

// ResourceCheckerFunc adapts a function to the ResourceChecker interface.
type ResourceCheckerFunc func(ctx context.Context, subject, resource, action string) (bool, error)

// CheckAccess implements ResourceChecker.
func (f ResourceCheckerFunc) CheckAccess(ctx context.Context, subject, resource, action string) (bool, error) {
	return f(ctx, subject, resource, action)
}

// Manager holds the rule set and evaluates requests against it.
// Unmatched paths are denied.
type Manager struct {
	mu      sync.RWMutex
	rules   []*compiledRule
	nextSeq uint64

	superuserRole string
	checker       ResourceChecker
	logger        observability.Logger
}

// ManagerOption is a functional option for the manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSuperuserRole sets the role that bypasses all rule checks.
func WithSuperuserRole(role string) ManagerOption {
	return func(m *Manager) {
		m.superuserRole = role
	}
}

// WithResourceChecker sets the checker used for resource/action rules.
func WithResourceChecker(checker ResourceChecker) ManagerOption {
	return func(m *Manager) {
		m.checker = checker
	}
}

// NewManager creates an empty rule manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FromConfig creates a manager populated from route permission config.
func FromConfig(cfgs []config.RoutePermissionConfig, opts ...ManagerOption) *Manager {
	m := NewManager(opts...)
	for _, cfg := range cfgs {
		m.AddRule(Rule{
			Path:        cfg.Path,
			Method:      cfg.Method,
			Roles:       cfg.Roles,
			Permissions: cfg.Permissions,
			Resource:    cfg.Resource,
			Action:      cfg.Action,
			Public:      cfg.Public,
		})
	}
	return m
}

// AddRule registers a rule. A rule with the same method and path
// replaces the previous one, keeping its position in tie-breaking.
func (m *Manager) AddRule(rule Rule) {
	if rule.Method == "" {
		rule.Method = "*"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ruleKey(rule.Method, rule.Path)
	for i, existing := range m.rules {
		if existing.key() == key {
			m.rules[i] = compileRule(rule, existing.seq)
			return
		}
	}

	m.rules = append(m.rules, compileRule(rule, m.nextSeq))
	m.nextSeq++
}

// RemoveRule removes the rule for the method and path, if any.
func (m *Manager) RemoveRule(method, path string) {
	if method == "" {
		method = "*"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ruleKey(method, path)
	for i, existing := range m.rules {
		if existing.key() == key {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return
		}
	}
}

// Rules returns a snapshot of the registered rules.
func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rules := make([]Rule, 0, len(m.rules))
	for _, c := range m.rules {
		rules = append(rules, c.rule)
	}
	return rules
}

// Match returns the most specific rule matching the method and path.
// Specificity is fewest parameter segments; ties go to the rule
// registered first. The second return is false when nothing matches.
func (m *Manager) Match(method, path string) (Rule, bool) {
	segments := splitPath(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *compiledRule
	for _, c := range m.rules {
		if !c.matches(method, segments) {
			continue
		}
		if best == nil ||
			c.paramCount < best.paramCount ||
			(c.paramCount == best.paramCount && c.seq < best.seq) {
			best = c
		}
	}

	if best == nil {
		return Rule{}, false
	}
	return best.rule, true
}

// Authorize evaluates the identity against the rule matching the
// request. A nil identity is treated as anonymous and only passes
// public routes.
func (m *Manager) Authorize(ctx context.Context, identity *util.Identity, method, path string) (*Decision, error) {
	ctx, span := authzTracer.Start(ctx, "authz.authorize",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	decision, err := m.authorize(ctx, identity, method, path)
	decisionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		decisionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	span.SetAttributes(attribute.Bool("authz.allowed", decision.Allowed))
	if decision.Allowed {
		decisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		decisionsTotal.WithLabelValues("denied").Inc()
		m.logger.Debug("authorization denied",
			observability.String("method", method),
			observability.String("path", path),
			observability.String("reason", decision.Reason),
		)
	}
	return decision, nil
}

func (m *Manager) authorize(ctx context.Context, identity *util.Identity, method, path string) (*Decision, error) {
	rule, ok := m.Match(method, path)
	if !ok {
		return &Decision{Allowed: false, Reason: "no rule matches the request path"}, nil
	}

	if rule.Public {
		return &Decision{Allowed: true, Reason: "public route", Rule: rule.Path}, nil
	}

	if identity == nil {
		return &Decision{Allowed: false, Reason: "authentication required", Rule: rule.Path}, nil
	}

	if m.superuserRole != "" && identity.HasRole(m.superuserRole) {
		return &Decision{Allowed: true, Reason: "superuser", Rule: rule.Path}, nil
	}

	if len(rule.Roles) > 0 && !hasAny(identity.Roles, rule.Roles) {
		return &Decision{Allowed: false, Reason: "missing required role", Rule: rule.Path}, nil
	}

	if len(rule.Permissions) > 0 && !hasAny(identity.Permissions, rule.Permissions) {
		return &Decision{Allowed: false, Reason: "missing required permission", Rule: rule.Path}, nil
	}

	if rule.Resource != "" && rule.Action != "" {
		if m.checker == nil {
			return &Decision{Allowed: false, Reason: "no resource checker configured", Rule: rule.Path}, nil
		}
		allowed, err := m.checker.CheckAccess(ctx, identity.Subject, rule.Resource, rule.Action)
		if err != nil {
			return nil, fmt.Errorf("resource check for %s/%s: %w", rule.Resource, rule.Action, err)
		}
		if !allowed {
			return &Decision{Allowed: false, Reason: "resource access denied", Rule: rule.Path}, nil
		}
	}

	return &Decision{Allowed: true, Reason: "requirements satisfied", Rule: rule.Path}, nil
}

// Reload replaces the rule set from configuration, used by the config
// hot-reload path.
func (m *Manager) Reload(cfgs []config.RoutePermissionConfig) {
	m.mu.Lock()
	m.rules = nil
	m.nextSeq = 0
	m.mu.Unlock()

	for _, cfg := range cfgs {
		m.AddRule(Rule{
			Path:        cfg.Path,
			Method:      cfg.Method,
			Roles:       cfg.Roles,
			Permissions: cfg.Permissions,
			Resource:    cfg.Resource,
			Action:      cfg.Action,
			Public:      cfg.Public,
		})
	}
}

func hasAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
