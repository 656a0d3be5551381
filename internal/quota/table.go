// Package quota holds the route quota table and the fixed-window counter
// arithmetic used by the quota middleware.
package quota

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Scope selects which pipeline pass enforces a rule.
type Scope string

const (
	// ScopeIP rules run before authentication, keyed on the client IP.
	ScopeIP Scope = "ip"
	// ScopeCredential rules run after authentication, keyed on the
	// credential or on the IP for anonymous callers.
	ScopeCredential Scope = "credential"
)

// Wildcard matches exactly one path segment.
const Wildcard = "*"

// AnyMethod matches every HTTP method.
const AnyMethod = "*"

type Rule struct {
	Method  string
	Pattern string
	Points  int
	Window  time.Duration
	Scope   Scope
}

func (r Rule) validate() error {
	if r.Method == "" {
		return fmt.Errorf("rule %q: method is required", r.Pattern)
	}
	if !strings.HasPrefix(r.Pattern, "/") {
		return fmt.Errorf("rule %s %q: pattern must start with /", r.Method, r.Pattern)
	}
	if r.Points < 1 {
		return fmt.Errorf("rule %s %s: points must be positive", r.Method, r.Pattern)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rule %s %s: window must be positive", r.Method, r.Pattern)
	}
	if r.Scope != ScopeIP && r.Scope != ScopeCredential {
		return fmt.Errorf("rule %s %s: unknown scope %q", r.Method, r.Pattern, r.Scope)
	}
	return nil
}

// Match is the result of a table lookup. Route is the template that names
// the counter: the rule pattern for exact and wildcard hits, the request
// path for the fallback.
type Match struct {
	Rule  Rule
	Route string
}

type wildcardMatcher struct {
	method   string
	segments []string
	rule     Rule
}

func (m wildcardMatcher) matches(method string, segments []string) bool {
	if m.method != AnyMethod && m.method != method {
		return false
	}
	if len(segments) != len(m.segments) {
		return false
	}
	for i, s := range m.segments {
		if s != Wildcard && s != segments[i] {
			return false
		}
	}
	return true
}

// Table is compiled once at startup and is read-only afterwards.
type Table struct {
	exact     map[string]Rule
	wildcards []wildcardMatcher
	fallback  Rule
}

// Compile validates rules and builds the lookup structures. Wildcard rules
// are tried in declaration order.
func Compile(rules []Rule, fallback Rule) (*Table, error) {
	fallback.Pattern = "/" + Wildcard
	if err := fallback.validate(); err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}

	t := &Table{exact: make(map[string]Rule), fallback: fallback}
	for _, r := range rules {
		r.Method = strings.ToUpper(r.Method)
		r.Pattern = normalizePath(r.Pattern)
		if err := r.validate(); err != nil {
			return nil, err
		}

		segments := splitPath(r.Pattern)
		if !hasWildcard(segments) {
			key := exactKey(r.Method, r.Pattern)
			if _, dup := t.exact[key]; dup {
				return nil, fmt.Errorf("duplicate rule %s %s", r.Method, r.Pattern)
			}
			t.exact[key] = r
			continue
		}
		t.wildcards = append(t.wildcards, wildcardMatcher{method: r.Method, segments: segments, rule: r})
	}
	return t, nil
}

// MustCompile is Compile for static tables.
func MustCompile(rules []Rule, fallback Rule) *Table {
	t, err := Compile(rules, fallback)
	if err != nil {
		panic(err)
	}
	return t
}

// Match resolves method and path: exact rule first, then wildcard rules,
// then the fallback.
func (t *Table) Match(method, path string) Match {
	method = strings.ToUpper(method)
	path = normalizePath(path)

	if r, ok := t.exact[exactKey(method, path)]; ok {
		return Match{Rule: r, Route: r.Pattern}
	}
	if r, ok := t.exact[exactKey(AnyMethod, path)]; ok {
		return Match{Rule: r, Route: r.Pattern}
	}

	segments := splitPath(path)
	for _, m := range t.wildcards {
		if m.matches(method, segments) {
			return Match{Rule: m.rule, Route: m.rule.Pattern}
		}
	}

	return Match{Rule: t.fallback, Route: path}
}

func exactKey(method, path string) string {
	return method + " " + path
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func hasWildcard(segments []string) bool {
	for _, s := range segments {
		if s == Wildcard {
			return true
		}
	}
	return false
}

// DefaultRules is the social API quota table.
func DefaultRules() []Rule {
	return []Rule{
		{Method: http.MethodPost, Pattern: "/api/v1/agents/register", Points: 5, Window: time.Hour, Scope: ScopeIP},
		{Method: http.MethodPost, Pattern: "/api/v1/agents/claim/*", Points: 10, Window: time.Hour, Scope: ScopeIP},
		{Method: http.MethodGet, Pattern: "/api/v1/feed", Points: 60, Window: time.Minute, Scope: ScopeIP},
		{Method: http.MethodGet, Pattern: "/api/v1/agents/me", Points: 120, Window: time.Minute, Scope: ScopeCredential},
		{Method: http.MethodPatch, Pattern: "/api/v1/agents/me", Points: 10, Window: time.Minute, Scope: ScopeCredential},
		{Method: http.MethodPost, Pattern: "/api/v1/posts", Points: 1, Window: 30 * time.Minute, Scope: ScopeCredential},
		{Method: http.MethodPost, Pattern: "/api/v1/posts/*/comments", Points: 50, Window: time.Hour, Scope: ScopeCredential},
		{Method: http.MethodPost, Pattern: "/api/v1/posts/*/reactions", Points: 100, Window: time.Minute, Scope: ScopeCredential},
		{Method: http.MethodPost, Pattern: "/api/v1/communities", Points: 3, Window: 24 * time.Hour, Scope: ScopeCredential},
		{Method: http.MethodPost, Pattern: "/api/v1/communities/*/members", Points: 30, Window: time.Hour, Scope: ScopeCredential},
	}
}

// DefaultFallback applies to every route without a rule.
func DefaultFallback() Rule {
	return Rule{Method: AnyMethod, Points: 100, Window: time.Minute, Scope: ScopeCredential}
}
