package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/abund-gatekeeper/internal/credential"
	"github.com/abund-gatekeeper/internal/service"
	"github.com/abund-gatekeeper/internal/store"
)

type adminHarness struct {
	svc    *service.AccountService
	store  *store.SQLite
	router http.Handler
}

func newAdminHarness(t *testing.T) *adminHarness {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	svc := service.NewAccountService(s, "https://abund.example/claim", nil)

	r := chi.NewRouter()
	r.Get("/admin/credentials", NewListCredentialsHandler(svc).ServeHTTP)
	r.Get("/admin/accounts/{id}", NewGetAccountHandler(svc).ServeHTTP)
	r.Post("/admin/accounts/{id}/credentials", NewIssueCredentialHandler(svc).ServeHTTP)
	r.Post("/admin/credentials/{id}/rotate", NewRotateCredentialHandler(svc).ServeHTTP)
	r.Delete("/admin/credentials/{id}", NewRevokeCredentialHandler(svc).ServeHTTP)
	r.Put("/admin/credentials/{id}/bypass", NewSetBypassHandler(svc).ServeHTTP)

	return &adminHarness{svc: svc, store: s, router: r}
}

func (h *adminHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *adminHarness) register(t *testing.T, handle string) *service.RegisterResult {
	t.Helper()
	res, err := h.svc.Register(context.Background(), service.RegisterInput{Handle: handle})
	if err != nil {
		t.Fatalf("register %s: %v", handle, err)
	}
	return res
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func TestListCredentials(t *testing.T) {
	h := newAdminHarness(t)
	crab := h.register(t, "crab")
	h.register(t, "lobster")
	h.register(t, "shrimp")

	rec := h.do(t, http.MethodGet, "/admin/credentials?per_page=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page listCredentialsResponse
	decode(t, rec, &page)
	if page.Total != 3 || len(page.Credentials) != 2 || page.PerPage != 2 {
		t.Fatalf("unexpected page: total=%d len=%d per_page=%d", page.Total, len(page.Credentials), page.PerPage)
	}
	if strings.Contains(rec.Body.String(), "digest") {
		t.Fatal("credential digests must not be listed")
	}

	rec = h.do(t, http.MethodGet, "/admin/credentials?account_id="+crab.Account.ID.String(), "")
	decode(t, rec, &page)
	if page.Total != 1 || page.Credentials[0].AccountID != crab.Account.ID {
		t.Fatalf("account filter not applied: %+v", page)
	}

	for _, q := range []string{"page=x", "per_page=500", "account_id=nope"} {
		if rec := h.do(t, http.MethodGet, "/admin/credentials?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestGetAccount(t *testing.T) {
	h := newAdminHarness(t)
	crab := h.register(t, "crab")

	rec := h.do(t, http.MethodGet, "/admin/accounts/"+crab.Account.ID.String(), "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"handle":"crab"`) {
		t.Fatalf("get account: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), crab.Account.ClaimCode) {
		t.Fatal("claim code must not be exposed")
	}

	if rec := h.do(t, http.MethodGet, "/admin/accounts/"+uuid.NewString(), ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account: expected 404, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/admin/accounts/not-a-uuid", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestIssueCredential(t *testing.T) {
	h := newAdminHarness(t)
	crab := h.register(t, "crab")
	expires := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	rec := h.do(t, http.MethodPost, "/admin/accounts/"+crab.Account.ID.String()+"/credentials",
		`{"bypass_quota":true,"expires_at":"`+expires+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var issued issuedCredentialResponse
	decode(t, rec, &issued)
	if !credential.WellFormed(issued.APIKey) || !issued.BypassQuota || issued.ExpiresAt == "" {
		t.Fatalf("unexpected issued credential: %+v", issued)
	}
	if issued.KeyPrefix != credential.LookupPrefix(issued.APIKey) {
		t.Fatalf("prefix %q does not match key", issued.KeyPrefix)
	}

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	rec = h.do(t, http.MethodPost, "/admin/accounts/"+crab.Account.ID.String()+"/credentials", `{"expires_at":"`+past+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("past expiry: expected 400, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/admin/accounts/"+uuid.NewString()+"/credentials", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account: expected 404, got %d", rec.Code)
	}
}

func TestRotateAndRevoke(t *testing.T) {
	ctx := context.Background()
	h := newAdminHarness(t)
	crab := h.register(t, "crab")
	oldID := crab.Credential.ID.String()

	rec := h.do(t, http.MethodPost, "/admin/credentials/"+oldID+"/rotate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d", rec.Code)
	}
	var rotated issuedCredentialResponse
	decode(t, rec, &rotated)
	if rotated.ID == crab.Credential.ID || rotated.AccountID != crab.Account.ID {
		t.Fatalf("unexpected rotated credential: %+v", rotated)
	}

	matches, err := h.store.FindCredentials(ctx, credential.LookupPrefix(crab.RawCredential))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	for _, m := range matches {
		if m.Credential.ID == crab.Credential.ID {
			t.Fatal("rotated credential still resolvable")
		}
	}

	if rec := h.do(t, http.MethodDelete, "/admin/credentials/"+rotated.ID.String(), ""); rec.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodDelete, "/admin/credentials/"+rotated.ID.String(), ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second revoke: expected 404, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPost, "/admin/credentials/"+oldID+"/rotate", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("rotating a deleted credential: expected 404, got %d", rec.Code)
	}
}

func TestSetBypass(t *testing.T) {
	h := newAdminHarness(t)
	crab := h.register(t, "crab")
	path := "/admin/credentials/" + crab.Credential.ID.String() + "/bypass"

	rec := h.do(t, http.MethodPut, path, `{"bypass_quota":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var item credentialItem
	decode(t, rec, &item)
	if !item.BypassQuota {
		t.Fatal("bypass flag not set")
	}

	if rec := h.do(t, http.MethodPut, path, `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing flag: expected 400, got %d", rec.Code)
	}
	if rec := h.do(t, http.MethodPut, "/admin/credentials/"+uuid.NewString()+"/bypass", `{"bypass_quota":false}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown credential: expected 404, got %d", rec.Code)
	}
}
