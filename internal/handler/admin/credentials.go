package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/abund-gatekeeper/internal/handler"
	"github.com/abund-gatekeeper/internal/httputil"
	"github.com/abund-gatekeeper/internal/middleware"
	"github.com/abund-gatekeeper/internal/model"
	"github.com/abund-gatekeeper/internal/service"
	"github.com/abund-gatekeeper/internal/store"
)

type credentialItem struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	KeyPrefix   string    `json:"key_prefix"`
	BypassQuota bool      `json:"bypass_quota"`
	ExpiresAt   string    `json:"expires_at,omitempty"`
	LastUsedAt  string    `json:"last_used_at,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

func toCredentialItem(c *model.CredentialRecord) credentialItem {
	item := credentialItem{
		ID:          c.ID,
		AccountID:   c.AccountID,
		KeyPrefix:   c.Prefix,
		BypassQuota: c.BypassQuota,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
	if c.ExpiresAt != nil {
		item.ExpiresAt = c.ExpiresAt.Format(time.RFC3339)
	}
	if c.LastUsedAt != nil {
		item.LastUsedAt = c.LastUsedAt.Format(time.RFC3339)
	}
	return item
}

func parseID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// --- List Credentials ---

type ListCredentialsHandler struct {
	svc *service.AccountService
}

func NewListCredentialsHandler(svc *service.AccountService) *ListCredentialsHandler {
	return &ListCredentialsHandler{svc: svc}
}

type listCredentialsResponse struct {
	Credentials []credentialItem `json:"credentials"`
	Total       int              `json:"total"`
	Page        int              `json:"page"`
	PerPage     int              `json:"per_page"`
}

func (h *ListCredentialsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := httputil.ParsePagination(q.Get("page"), q.Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	filters := store.CredentialFilters{Page: page.Number, PerPage: page.PerPage}
	if raw := q.Get("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid account_id")
			return
		}
		filters.AccountID = &id
	}

	creds, total, err := h.svc.ListCredentials(r.Context(), filters)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	items := make([]credentialItem, 0, len(creds))
	for _, c := range creds {
		items = append(items, toCredentialItem(c))
	}
	handler.RespondJSON(w, http.StatusOK, listCredentialsResponse{
		Credentials: items,
		Total:       total,
		Page:        page.Number,
		PerPage:     page.PerPage,
	})
}

// --- Get Account ---

type GetAccountHandler struct {
	svc *service.AccountService
}

func NewGetAccountHandler(svc *service.AccountService) *GetAccountHandler {
	return &GetAccountHandler{svc: svc}
}

func (h *GetAccountHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "account")
	if !ok {
		return
	}

	account, err := h.svc.GetAccount(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}
	handler.RespondJSON(w, http.StatusOK, account)
}

// --- Issue Credential ---

type IssueCredentialHandler struct {
	svc *service.AccountService
}

func NewIssueCredentialHandler(svc *service.AccountService) *IssueCredentialHandler {
	return &IssueCredentialHandler{svc: svc}
}

type issueCredentialRequest struct {
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	BypassQuota bool       `json:"bypass_quota"`
}

type issuedCredentialResponse struct {
	credentialItem
	APIKey string `json:"api_key"`
}

func (h *IssueCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID, ok := parseID(w, r, "account")
	if !ok {
		return
	}
	var req issueCredentialRequest
	if !handler.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.IssueCredential(r.Context(), accountID, service.IssueInput{
		ExpiresAt:   req.ExpiresAt,
		BypassQuota: req.BypassQuota,
	})
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("admin", middleware.GetAdminEmail(r.Context())).
		Str("account_id", accountID.String()).
		Str("credential_id", result.Credential.ID.String()).
		Bool("bypass_quota", req.BypassQuota).
		Msg("credential issued")

	handler.RespondJSON(w, http.StatusCreated, issuedCredentialResponse{
		credentialItem: toCredentialItem(result.Credential),
		APIKey:         result.RawCredential,
	})
}

// --- Rotate Credential ---

type RotateCredentialHandler struct {
	svc *service.AccountService
}

func NewRotateCredentialHandler(svc *service.AccountService) *RotateCredentialHandler {
	return &RotateCredentialHandler{svc: svc}
}

func (h *RotateCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "credential")
	if !ok {
		return
	}

	result, err := h.svc.RotateCredential(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("admin", middleware.GetAdminEmail(r.Context())).
		Str("old_credential_id", id.String()).
		Str("credential_id", result.Credential.ID.String()).
		Msg("credential rotated")

	handler.RespondJSON(w, http.StatusOK, issuedCredentialResponse{
		credentialItem: toCredentialItem(result.Credential),
		APIKey:         result.RawCredential,
	})
}

// --- Revoke Credential ---

type RevokeCredentialHandler struct {
	svc *service.AccountService
}

func NewRevokeCredentialHandler(svc *service.AccountService) *RevokeCredentialHandler {
	return &RevokeCredentialHandler{svc: svc}
}

func (h *RevokeCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "credential")
	if !ok {
		return
	}

	if err := h.svc.RevokeCredential(r.Context(), id); err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("admin", middleware.GetAdminEmail(r.Context())).
		Str("credential_id", id.String()).
		Msg("credential revoked")

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": "revoked",
	})
}

// --- Set Bypass ---

type SetBypassHandler struct {
	svc *service.AccountService
}

func NewSetBypassHandler(svc *service.AccountService) *SetBypassHandler {
	return &SetBypassHandler{svc: svc}
}

type setBypassRequest struct {
	BypassQuota *bool `json:"bypass_quota"`
}

func (h *SetBypassHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "credential")
	if !ok {
		return
	}
	var req setBypassRequest
	if !handler.DecodeJSON(w, r, &req) {
		return
	}
	if req.BypassQuota == nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "bypass_quota is required")
		return
	}

	cred, err := h.svc.SetBypass(r.Context(), id, *req.BypassQuota)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("admin", middleware.GetAdminEmail(r.Context())).
		Str("credential_id", id.String()).
		Bool("bypass_quota", *req.BypassQuota).
		Msg("credential bypass updated")

	handler.RespondJSON(w, http.StatusOK, toCredentialItem(cred))
}
