package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/abund-gatekeeper/internal/credential"
	"github.com/abund-gatekeeper/internal/model"
	"github.com/abund-gatekeeper/internal/privacy"
	"github.com/abund-gatekeeper/internal/store"
)

type auditHarness struct {
	clock    *testClock
	sqlite   *store.SQLite
	lookup   *fakeLookup
	sched    *syncScheduler
	recorder *AuditRecorder
}

func newAuditHarness(t *testing.T) *auditHarness {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := &auditHarness{clock: newTestClock(), sqlite: s, lookup: newFakeLookup(), sched: &syncScheduler{}}
	hasher, err := privacy.NewHasher([]byte("audit-test-secret"), h.clock.Now)
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	h.recorder = NewAuditRecorder(AuditOptions{
		Sink:      s,
		Lookup:    h.lookup,
		Hasher:    hasher,
		Scheduler: h.sched,
		Now:       h.clock.Now,
	})
	return h
}

func (h *auditHarness) serve(t *testing.T, next http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	chimw.RequestID(h.recorder.Middleware(next)).ServeHTTP(rec, req)
	return rec
}

func (h *auditHarness) entries(t *testing.T) []model.AuditEntry {
	t.Helper()
	entries, err := h.sqlite.AuditEntries(context.Background())
	if err != nil {
		t.Fatalf("audit entries: %v", err)
	}
	return entries
}

func TestAuditRecordsRequest(t *testing.T) {
	h := newAuditHarness(t)
	fx := newCredentialFixture(t, true, false)
	h.lookup.add(fx.match)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.clock.Advance(25 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/posts?draft=1", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("Authorization", "Bearer "+fx.raw)
	req.Header.Set("User-Agent", "lobster-agent/2.1")

	rec := h.serve(t, next, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("recorder changed the response: %d", rec.Code)
	}

	entries := h.entries(t)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Method != http.MethodPost || e.Path != "/api/v1/posts" || e.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.LatencyMS != 25 {
		t.Fatalf("latency = %dms, want 25", e.LatencyMS)
	}
	if e.UserAgent != "lobster-agent/2.1" || e.RequestID == "" {
		t.Fatalf("missing request metadata: %+v", e)
	}
	if e.AccountID == nil || *e.AccountID != fx.match.Account.ID {
		t.Fatalf("account id = %v, want %s", e.AccountID, fx.match.Account.ID)
	}
	if e.IPHash == "" || strings.Contains(e.IPHash, "203.0.113.7") {
		t.Fatalf("ip hash looks wrong: %q", e.IPHash)
	}
	if h.sched.submitted("audit") != 1 {
		t.Fatal("audit write must go through the scheduler")
	}
}

func TestAuditRedactsSecretPathSegments(t *testing.T) {
	h := newAuditHarness(t)
	code := credential.GenerateClaimCode()
	rejected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	h.serve(t, rejected, httptest.NewRequest(http.MethodPost, "/api/v1/agents/claim/"+code, nil))
	h.clock.Advance(time.Second)
	h.serve(t, okHandler(), httptest.NewRequest(http.MethodGet, "/api/v1/agents/me", nil))

	entries := h.entries(t)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if got := entries[0].Path; got != "/api/v1/agents/claim/{redacted}" {
		t.Fatalf("claim path = %q", got)
	}
	if got := entries[1].Path; got != "/api/v1/agents/me" {
		t.Fatalf("plain paths must be kept, got %q", got)
	}
}

func TestAuditIPHashRotatesDaily(t *testing.T) {
	h := newAuditHarness(t)
	send := func(addr string) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
		req.RemoteAddr = addr
		h.serve(t, okHandler(), req)
	}

	send("198.51.100.23:1000")
	h.clock.Advance(3 * time.Hour)
	send("198.51.100.23:2000")
	h.clock.Advance(time.Minute)
	send("198.51.100.24:2000")
	h.clock.Advance(24 * time.Hour)
	send("198.51.100.23:3000")

	entries := h.entries(t)
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].IPHash != entries[1].IPHash {
		t.Fatal("same IP on the same day must hash identically")
	}
	if entries[1].IPHash == entries[2].IPHash {
		t.Fatal("different IPs must not collide")
	}
	if entries[0].IPHash == entries[3].IPHash {
		t.Fatal("same IP on a different day must hash differently")
	}
	for _, e := range entries {
		for _, field := range []string{e.IPHash, e.Path, e.UserAgent, e.RequestID} {
			if strings.Contains(field, "198.51.100") {
				t.Fatalf("raw IP stored in audit entry: %+v", e)
			}
		}
	}
}

func TestAuditAccountLookupIsBestEffort(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		storeErr error
	}{
		{name: "anonymous"},
		{name: "malformed", header: "Bearer abund_zz"},
		{name: "unknown prefix", header: "Bearer abund_0000000000000000000000000000dead"},
		{name: "store failure", header: "Bearer abund_0123456789abcdef0123456789abcdef", storeErr: errors.New("down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuditHarness(t)
			h.lookup.err = tt.storeErr
			req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := h.serve(t, okHandler(), req)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			entries := h.entries(t)
			if len(entries) != 1 {
				t.Fatalf("entry must be written regardless of lookup outcome, got %d", len(entries))
			}
			if entries[0].AccountID != nil {
				t.Fatalf("expected no account id, got %v", entries[0].AccountID)
			}
		})
	}
}

type failingSink struct{}

func (failingSink) AppendAudit(context.Context, *model.AuditEntry) error {
	return errors.New("disk full")
}

func TestAuditFailureNeverReachesCaller(t *testing.T) {
	clock := newTestClock()
	hasher, _ := privacy.NewHasher([]byte("secret"), clock.Now)
	sched := &syncScheduler{}
	recorder := NewAuditRecorder(AuditOptions{Sink: failingSink{}, Hasher: hasher, Scheduler: sched, Now: clock.Now})

	handler := recorder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != `{"success":true}` {
		t.Fatalf("response altered by audit failure: %d %s", rec.Code, rec.Body.String())
	}
	if len(sched.errs) != 1 || sched.errs[0] == nil {
		t.Fatalf("expected the task to report the sink error, got %v", sched.errs)
	}

	dropping := NewAuditRecorder(AuditOptions{Sink: failingSink{}, Hasher: hasher, Scheduler: &syncScheduler{reject: true}})
	rec = httptest.NewRecorder()
	dropping.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("a dropped audit task must not affect the response, got %d", rec.Code)
	}
}

func TestAuditTruncatesUserAgent(t *testing.T) {
	h := newAuditHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	req.Header.Set("User-Agent", strings.Repeat("a", 511)+"é"+strings.Repeat("b", 100))

	h.serve(t, okHandler(), req)

	ua := h.entries(t)[0].UserAgent
	if len(ua) != 511 {
		t.Fatalf("expected truncation before the split rune, got %d bytes", len(ua))
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"abcdef", 3, "abc"},
		{"añb", 2, "a"},
		{"añb", 3, "añ"},
	}
	for _, tt := range tests {
		if got := truncateUTF8(tt.in, tt.n); got != tt.want {
			t.Fatalf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
