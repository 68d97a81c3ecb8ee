package authz

import (
	"strings"
)

// Rule describes the access requirements for one route pattern. All
// configured requirement kinds must pass for the rule to allow.
type Rule struct {
	// Path is the route pattern; segments starting with ':' match any
	// single segment (for example /studies/:id/slices).
	Path string

	// Method is the HTTP method, or "*" for any.
	Method string

	// Roles the caller must hold at least one of.
	Roles []string

	// Permissions the caller must hold at least one of.
	Permissions []string

	// Resource and Action are checked through the ResourceChecker when
	// both are set.
	Resource string
	Action   string

	// Public marks the route as reachable without authentication.
	Public bool
}

// compiledRule is a Rule with its pattern split for matching.
type compiledRule struct {
	rule       Rule
	segments   []string
	paramCount int
	seq        uint64
}

func compileRule(rule Rule, seq uint64) *compiledRule {
	segments := splitPath(rule.Path)
	params := 0
	for _, s := range segments {
		if strings.HasPrefix(s, ":") {
			params++
		}
	}
	return &compiledRule{
		rule:       rule,
		segments:   segments,
		paramCount: params,
		seq:        seq,
	}
}

// matches reports whether the rule pattern matches the method and the
// already-split request path.
func (c *compiledRule) matches(method string, pathSegments []string) bool {
	if c.rule.Method != "*" && !strings.EqualFold(c.rule.Method, method) {
		return false
	}
	if len(c.segments) != len(pathSegments) {
		return false
	}
	for i, seg := range c.segments {
		if strings.HasPrefix(seg, ":") {
			continue
		}
		if seg != pathSegments[i] {
			return false
		}
	}
	return true
}

// key identifies a rule for replacement and removal.
func (c *compiledRule) key() string {
	return ruleKey(c.rule.Method, c.rule.Path)
}

func ruleKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
