package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/abund-gatekeeper/internal/credential"
	"github.com/abund-gatekeeper/internal/model"
	"github.com/abund-gatekeeper/internal/store"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeLookup is an in-memory CredentialLookup that counts calls.
type fakeLookup struct {
	mu        sync.Mutex
	matches   map[string][]model.CredentialMatch
	err       error
	findCalls int
	touched   []uuid.UUID
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{matches: map[string][]model.CredentialMatch{}}
}

func (f *fakeLookup) add(m model.CredentialMatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[m.Credential.Prefix] = append(f.matches[m.Credential.Prefix], m)
}

func (f *fakeLookup) FindCredentials(_ context.Context, prefix string) ([]model.CredentialMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.CredentialMatch(nil), f.matches[prefix]...), nil
}

func (f *fakeLookup) TouchCredential(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeLookup) AccountIDByPrefix(_ context.Context, prefix string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	ms := f.matches[prefix]
	if len(ms) == 0 {
		return uuid.Nil, store.ErrNotFound
	}
	return ms[0].Account.ID, nil
}

func (f *fakeLookup) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findCalls
}

func (f *fakeLookup) touches() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.touched...)
}

// syncScheduler runs tasks inline and keeps their errors.
type syncScheduler struct {
	mu     sync.Mutex
	names  []string
	errs   []error
	reject bool
}

func (s *syncScheduler) Submit(name string, fn func(ctx context.Context) error) bool {
	if s.reject {
		return false
	}
	err := fn(context.Background())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.errs = append(s.errs, err)
	return true
}

func (s *syncScheduler) submitted(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, got := range s.names {
		if got == name {
			n++
		}
	}
	return n
}

type credentialFixture struct {
	raw   string
	match model.CredentialMatch
}

func newCredentialFixture(t *testing.T, claimed, bypass bool) credentialFixture {
	t.Helper()
	raw := credential.Generate()
	return fixtureFor(raw, claimed, bypass)
}

func fixtureFor(raw string, claimed, bypass bool) credentialFixture {
	accountID := uuid.New()
	return credentialFixture{
		raw: raw,
		match: model.CredentialMatch{
			Credential: model.CredentialRecord{
				ID:          uuid.New(),
				AccountID:   accountID,
				Prefix:      credential.LookupPrefix(raw),
				Digest:      credential.Digest(raw),
				BypassQuota: bypass,
			},
			Account: model.Account{
				ID:        accountID,
				Handle:    "agent-" + raw[len(raw)-6:],
				IsClaimed: claimed,
				ClaimCode: "abund_claim_" + strings.Repeat("c", 32),
			},
		},
	}
}

// samePrefix returns a well-formed credential sharing raw's lookup prefix
// but with a different secret body.
func samePrefix(raw string) string {
	body := strings.Repeat("0", credential.MinLength-credential.PrefixLength)
	if raw[credential.PrefixLength:] == body {
		body = strings.Repeat("1", len(body))
	}
	return raw[:credential.PrefixLength] + body
}

func withPrincipal(fx credentialFixture, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithPrincipal(r.Context(), model.NewPrincipal(&fx.match))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
