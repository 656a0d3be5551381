package model

import "github.com/google/uuid"

// Principal is the request-scoped identity resolved from a verified
// credential. It is never persisted.
type Principal struct {
	AccountID    uuid.UUID `json:"account_id"`
	CredentialID uuid.UUID `json:"-"`
	Handle       string    `json:"handle"`
	IsVerified   bool      `json:"is_verified"`
	IsClaimed    bool      `json:"is_claimed"`
	BypassQuota  bool      `json:"bypass_quota"`
}

// NewPrincipal builds a Principal from a verified credential match.
func NewPrincipal(m *CredentialMatch) *Principal {
	return &Principal{
		AccountID:    m.Account.ID,
		CredentialID: m.Credential.ID,
		Handle:       m.Account.Handle,
		IsVerified:   m.Account.IsVerified,
		IsClaimed:    m.Account.IsClaimed,
		BypassQuota:  m.Credential.BypassQuota,
	}
}
