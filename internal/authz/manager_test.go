package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellvista/gateway/internal/config"
	"github.com/cellvista/gateway/internal/util"
)

func TestManager_Match(t *testing.T) {
	t.Run("exact path match", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/users", Method: "GET"})

		rule, ok := m.Match("GET", "/users")
		require.True(t, ok)
		assert.Equal(t, "/users", rule.Path)
	})

	t.Run("no match", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/users", Method: "GET"})

		_, ok := m.Match("GET", "/teams")
		assert.False(t, ok)
	})

	t.Run("method must match", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/users", Method: "GET"})

		_, ok := m.Match("DELETE", "/users")
		assert.False(t, ok)
	})

	t.Run("wildcard method matches everything", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/users", Method: "*"})

		for _, method := range []string{"GET", "POST", "DELETE"} {
			_, ok := m.Match(method, "/users")
			assert.True(t, ok, method)
		}
	})

	t.Run("method match is case-insensitive", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/users", Method: "get"})

		_, ok := m.Match("GET", "/users")
		assert.True(t, ok)
	})

	t.Run("parameter segments match any value", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/users/:id", Method: "GET"})

		rule, ok := m.Match("GET", "/users/42")
		require.True(t, ok)
		assert.Equal(t, "/users/:id", rule.Path)

		_, ok = m.Match("GET", "/users/42/posts")
		assert.False(t, ok, "segment counts must match")
	})

	t.Run("more specific rule wins", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/users/:id", Method: "GET", Roles: []string{"admin"}})
		m.AddRule(Rule{Path: "/users/me", Method: "GET"})

		rule, ok := m.Match("GET", "/users/me")
		require.True(t, ok)
		assert.Equal(t, "/users/me", rule.Path)

		rule, ok = m.Match("GET", "/users/42")
		require.True(t, ok)
		assert.Equal(t, "/users/:id", rule.Path)
	})

	t.Run("specificity tie goes to the first registered rule", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/jobs/:id", Method: "*", Roles: []string{"first"}})
		m.AddRule(Rule{Path: "/jobs/:name", Method: "*", Roles: []string{"second"}})

		rule, ok := m.Match("GET", "/jobs/42")
		require.True(t, ok)
		assert.Equal(t, []string{"first"}, rule.Roles)
	})

	t.Run("re-adding a rule replaces it without losing its position", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/jobs/:id", Method: "GET", Roles: []string{"old"}})
		m.AddRule(Rule{Path: "/jobs/:name", Method: "GET", Roles: []string{"later"}})
		m.AddRule(Rule{Path: "/jobs/:id", Method: "GET", Roles: []string{"new"}})

		rule, ok := m.Match("GET", "/jobs/42")
		require.True(t, ok)
		assert.Equal(t, []string{"new"}, rule.Roles)
		assert.Len(t, m.Rules(), 2)
	})
}

func TestManager_Authorize(t *testing.T) {
	ctx := context.Background()

	t.Run("default deny when no rule matches", func(t *testing.T) {
		m := NewManager()

		decision, err := m.Authorize(ctx, &util.Identity{Subject: "u"}, "GET", "/unknown")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})

	t.Run("public route allows anonymous callers", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/status", Method: "GET", Public: true})

		decision, err := m.Authorize(ctx, nil, "GET", "/status")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("anonymous caller is denied on protected routes", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/jobs", Method: "GET"})

		decision, err := m.Authorize(ctx, nil, "GET", "/jobs")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, "authentication required", decision.Reason)
	})

	t.Run("role requirement", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/jobs", Method: "POST", Roles: []string{"operator", "admin"}})

		decision, err := m.Authorize(ctx, &util.Identity{Subject: "u", Roles: []string{"operator"}}, "POST", "/jobs")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)

		decision, err = m.Authorize(ctx, &util.Identity{Subject: "u", Roles: []string{"user"}}, "POST", "/jobs")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, "missing required role", decision.Reason)
	})

	t.Run("permission requirement", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/jobs", Method: "POST", Permissions: []string{"jobs:write"}})

		decision, err := m.Authorize(ctx, &util.Identity{Subject: "u", Permissions: []string{"jobs:write"}}, "POST", "/jobs")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)

		decision, err = m.Authorize(ctx, &util.Identity{Subject: "u", Permissions: []string{"jobs:read"}}, "POST", "/jobs")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})

	t.Run("roles and permissions are both required when both are set", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/jobs", Method: "POST", Roles: []string{"operator"}, Permissions: []string{"jobs:write"}})

		decision, err := m.Authorize(ctx, &util.Identity{
			Subject: "u", Roles: []string{"operator"},
		}, "POST", "/jobs")
		require.NoError(t, err)
		assert.False(t, decision.Allowed, "role alone is not enough")

		decision, err = m.Authorize(ctx, &util.Identity{
			Subject: "u", Roles: []string{"operator"}, Permissions: []string{"jobs:write"},
		}, "POST", "/jobs")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("superuser bypasses requirements", func(t *testing.T) {
		m := NewManager(WithSuperuserRole("admin"))
		m.AddRule(Rule{Path: "/jobs", Method: "POST", Roles: []string{"operator"}, Permissions: []string{"jobs:write"}})

		decision, err := m.Authorize(ctx, &util.Identity{Subject: "root", Roles: []string{"admin"}}, "POST", "/jobs")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, "superuser", decision.Reason)
	})

	t.Run("resource check delegates to the checker", func(t *testing.T) {
		var gotSubject, gotResource, gotAction string
		checker := ResourceCheckerFunc(func(ctx context.Context, subject, resource, action string) (bool, error) {
			gotSubject, gotResource, gotAction = subject, resource, action
			return subject == "owner", nil
		})

		m := NewManager(WithResourceChecker(checker))
		m.AddRule(Rule{Path: "/datasets/:id", Method: "DELETE", Resource: "dataset", Action: "delete"})

		decision, err := m.Authorize(ctx, &util.Identity{Subject: "owner"}, "DELETE", "/datasets/7")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, "owner", gotSubject)
		assert.Equal(t, "dataset", gotResource)
		assert.Equal(t, "delete", gotAction)

		decision, err = m.Authorize(ctx, &util.Identity{Subject: "intruder"}, "DELETE", "/datasets/7")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})

	t.Run("resource check error propagates", func(t *testing.T) {
		checker := ResourceCheckerFunc(func(ctx context.Context, subject, resource, action string) (bool, error) {
			return false, errors.New("permission store down")
		})

		m := NewManager(WithResourceChecker(checker))
		m.AddRule(Rule{Path: "/datasets/:id", Method: "DELETE", Resource: "dataset", Action: "delete"})

		_, err := m.Authorize(ctx, &util.Identity{Subject: "u"}, "DELETE", "/datasets/7")
		assert.Error(t, err)
	})

	t.Run("resource rule without checker denies", func(t *testing.T) {
		m := NewManager()
		m.AddRule(Rule{Path: "/datasets/:id", Method: "DELETE", Resource: "dataset", Action: "delete"})

		decision, err := m.Authorize(ctx, &util.Identity{Subject: "u"}, "DELETE", "/datasets/7")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})
}

func TestManager_RemoveRule(t *testing.T) {
	m := NewManager()
	m.AddRule(Rule{Path: "/jobs", Method: "GET"})
	m.RemoveRule("GET", "/jobs")

	_, ok := m.Match("GET", "/jobs")
	assert.False(t, ok)
}

func TestManager_FromConfigAndReload(t *testing.T) {
	m := FromConfig([]config.RoutePermissionConfig{
		{Path: "/jobs", Method: "GET", Roles: []string{"user"}},
		{Path: "/status", Method: "GET", Public: true},
	})
	assert.Len(t, m.Rules(), 2)

	m.Reload([]config.RoutePermissionConfig{
		{Path: "/jobs", Method: "GET", Roles: []string{"operator"}},
	})

	rules := m.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, []string{"operator"}, rules[0].Roles)

	_, ok := m.Match("GET", "/status")
	assert.False(t, ok, "old rules are gone after reload")
}
