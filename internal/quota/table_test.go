package quota

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := Compile([]Rule{
		{Method: "POST", Pattern: "/api/v1/posts", Points: 1, Window: 30 * time.Minute, Scope: ScopeCredential},
		{Method: "POST", Pattern: "/api/v1/posts/*/comments", Points: 50, Window: time.Hour, Scope: ScopeCredential},
		{Method: "GET", Pattern: "/api/v1/posts/*", Points: 200, Window: time.Minute, Scope: ScopeIP},
		{Method: "*", Pattern: "/api/v1/search", Points: 30, Window: time.Minute, Scope: ScopeIP},
		{Method: "*", Pattern: "/api/v1/communities/*/*", Points: 20, Window: time.Minute, Scope: ScopeCredential},
	}, Rule{Method: "*", Points: 100, Window: time.Minute, Scope: ScopeCredential})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return tbl
}

func TestTableMatch(t *testing.T) {
	tbl := testTable(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantPoints int
		wantRoute  string
	}{
		{"exact", "POST", "/api/v1/posts", 1, "/api/v1/posts"},
		{"exact trailing slash", "POST", "/api/v1/posts/", 1, "/api/v1/posts"},
		{"exact lowercase method", "post", "/api/v1/posts", 1, "/api/v1/posts"},
		{"wildcard one segment", "POST", "/api/v1/posts/42/comments", 50, "/api/v1/posts/*/comments"},
		{"wildcard does not span segments", "POST", "/api/v1/posts/42/x/comments", 100, "/api/v1/posts/42/x/comments"},
		{"wildcard anchored at end", "POST", "/api/v1/posts/42/comments/9", 100, "/api/v1/posts/42/comments/9"},
		{"wildcard anchored at start", "POST", "/prefix/api/v1/posts/42/comments", 100, "/prefix/api/v1/posts/42/comments"},
		{"wildcard method mismatch", "DELETE", "/api/v1/posts/42/comments", 100, "/api/v1/posts/42/comments"},
		{"get single post", "GET", "/api/v1/posts/42", 200, "/api/v1/posts/*"},
		{"any method exact", "DELETE", "/api/v1/search", 30, "/api/v1/search"},
		{"any method wildcard", "PUT", "/api/v1/communities/go/members", 20, "/api/v1/communities/*/*"},
		{"fallback", "GET", "/api/v1/unknown", 100, "/api/v1/unknown"},
		{"fallback root", "GET", "/", 100, "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tbl.Match(tt.method, tt.path)
			if m.Rule.Points != tt.wantPoints {
				t.Fatalf("points = %d, want %d", m.Rule.Points, tt.wantPoints)
			}
			if m.Route != tt.wantRoute {
				t.Fatalf("route = %q, want %q", m.Route, tt.wantRoute)
			}
		})
	}
}

func TestTableExactBeatsWildcard(t *testing.T) {
	tbl, err := Compile([]Rule{
		{Method: "GET", Pattern: "/a/*", Points: 5, Window: time.Minute, Scope: ScopeIP},
		{Method: "GET", Pattern: "/a/special", Points: 9, Window: time.Minute, Scope: ScopeIP},
	}, DefaultFallback())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := tbl.Match("GET", "/a/special").Rule.Points; got != 9 {
		t.Fatalf("exact rule should win, got points=%d", got)
	}
	if got := tbl.Match("GET", "/a/other").Rule.Points; got != 5 {
		t.Fatalf("wildcard rule should match, got points=%d", got)
	}
}

func TestCompileRejectsInvalidRules(t *testing.T) {
	fallback := DefaultFallback()
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{"no method", Rule{Pattern: "/x", Points: 1, Window: time.Second, Scope: ScopeIP}, "method"},
		{"relative pattern", Rule{Method: "GET", Pattern: "x", Points: 1, Window: time.Second, Scope: ScopeIP}, "start with /"},
		{"zero points", Rule{Method: "GET", Pattern: "/x", Window: time.Second, Scope: ScopeIP}, "points"},
		{"zero window", Rule{Method: "GET", Pattern: "/x", Points: 1, Scope: ScopeIP}, "window"},
		{"bad scope", Rule{Method: "GET", Pattern: "/x", Points: 1, Window: time.Second, Scope: "tenant"}, "scope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]Rule{tt.rule}, fallback)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q error, got %v", tt.want, err)
			}
		})
	}

	dup := Rule{Method: "GET", Pattern: "/x", Points: 1, Window: time.Second, Scope: ScopeIP}
	if _, err := Compile([]Rule{dup, dup}, fallback); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	if _, err := Compile(nil, Rule{Method: "*", Points: 0, Window: time.Minute, Scope: ScopeIP}); err == nil {
		t.Fatal("expected invalid fallback to be rejected")
	}
}

func TestDefaultRulesCompile(t *testing.T) {
	tbl := MustCompile(DefaultRules(), DefaultFallback())
	m := tbl.Match(http.MethodPost, "/api/v1/agents/claim/abund_claim_0123")
	if m.Rule.Scope != ScopeIP || m.Route != "/api/v1/agents/claim/*" {
		t.Fatalf("unexpected claim match: %+v", m)
	}
}
