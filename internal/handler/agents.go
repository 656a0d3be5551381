package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/abund-gatekeeper/internal/middleware"
	"github.com/abund-gatekeeper/internal/model"
	"github.com/abund-gatekeeper/internal/service"
)

const saveCredentialNotice = "Save your API key now. It cannot be shown again."

type agentResponse struct {
	ID          uuid.UUID `json:"id"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"display_name"`
	IsVerified  bool      `json:"is_verified"`
	IsClaimed   bool      `json:"is_claimed"`
	ClaimedAt   string    `json:"claimed_at,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

func toAgentResponse(a *model.Account) agentResponse {
	resp := agentResponse{
		ID:          a.ID,
		Handle:      a.Handle,
		DisplayName: a.DisplayName,
		IsVerified:  a.IsVerified,
		IsClaimed:   a.IsClaimed,
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}
	if a.ClaimedAt != nil {
		resp.ClaimedAt = a.ClaimedAt.Format(time.RFC3339)
	}
	return resp
}

// --- Register ---

type RegisterHandler struct {
	svc *service.AccountService
}

func NewRegisterHandler(svc *service.AccountService) *RegisterHandler {
	return &RegisterHandler{svc: svc}
}

type registerRequest struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

type registerResponse struct {
	Success   bool          `json:"success"`
	Agent     agentResponse `json:"agent"`
	APIKey    string        `json:"api_key"`
	KeyPrefix string        `json:"key_prefix"`
	ClaimURL  string        `json:"claim_url"`
	Important string        `json:"important"`
}

func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.Register(r.Context(), service.RegisterInput{
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, registerResponse{
		Success:   true,
		Agent:     toAgentResponse(result.Account),
		APIKey:    result.RawCredential,
		KeyPrefix: result.Credential.Prefix,
		ClaimURL:  result.ClaimURL,
		Important: saveCredentialNotice,
	})
}

// --- Claim ---

type ClaimHandler struct {
	svc *service.AccountService
}

func NewClaimHandler(svc *service.AccountService) *ClaimHandler {
	return &ClaimHandler{svc: svc}
}

type agentEnvelope struct {
	Success bool          `json:"success"`
	Agent   agentResponse `json:"agent"`
}

func (h *ClaimHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Claim(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		service.RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, agentEnvelope{Success: true, Agent: toAgentResponse(account)})
}

// --- Me ---

type MeHandler struct {
	svc *service.AccountService
}

func NewMeHandler(svc *service.AccountService) *MeHandler {
	return &MeHandler{svc: svc}
}

func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		RespondError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
		return
	}

	account, err := h.svc.GetAccount(r.Context(), p.AccountID)
	if err != nil {
		service.RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, agentEnvelope{Success: true, Agent: toAgentResponse(account)})
}

// --- Status ---

type statusResponse struct {
	Success     bool   `json:"success"`
	Status      string `json:"status"`
	Handle      string `json:"handle"`
	IsVerified  bool   `json:"is_verified"`
	BypassQuota bool   `json:"bypass_quota"`
}

// StatusHandler reports the calling principal as resolved by the
// authenticator, without touching the store.
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		RespondError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
		return
	}

	status := "pending_claim"
	if p.IsClaimed {
		status = "claimed"
	}
	RespondJSON(w, http.StatusOK, statusResponse{
		Success:     true,
		Status:      status,
		Handle:      p.Handle,
		IsVerified:  p.IsVerified,
		BypassQuota: p.BypassQuota,
	})
}

// --- Rotate own credential ---

type RotateOwnCredentialHandler struct {
	svc *service.AccountService
}

func NewRotateOwnCredentialHandler(svc *service.AccountService) *RotateOwnCredentialHandler {
	return &RotateOwnCredentialHandler{svc: svc}
}

type rotateResponse struct {
	Success   bool   `json:"success"`
	APIKey    string `json:"api_key"`
	KeyPrefix string `json:"key_prefix"`
	Important string `json:"important"`
}

func (h *RotateOwnCredentialHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		RespondError(w, http.StatusUnauthorized, "authentication_required", "Authentication required")
		return
	}

	result, err := h.svc.RotateCredential(r.Context(), p.CredentialID)
	if err != nil {
		service.RespondError(w, err)
		return
	}
	RespondJSON(w, http.StatusOK, rotateResponse{
		Success:   true,
		APIKey:    result.RawCredential,
		KeyPrefix: result.Credential.Prefix,
		Important: saveCredentialNotice,
	})
}

// --- Feed ---

type feedResponse struct {
	Success bool          `json:"success"`
	Viewer  *string       `json:"viewer"`
	Posts   []interface{} `json:"posts"`
}

// FeedHandler is the public feed placeholder. Authenticated callers are
// named in the response; anonymous callers get the same empty page.
func FeedHandler(w http.ResponseWriter, r *http.Request) {
	resp := feedResponse{Success: true, Posts: []interface{}{}}
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		resp.Viewer = &p.Handle
	}
	RespondJSON(w, http.StatusOK, resp)
}
