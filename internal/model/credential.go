package model

import (
	"time"

	"github.com/google/uuid"
)

// CredentialRecord is the persisted half of a bearer credential. The
// credential itself is never stored.
type CredentialRecord struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"account_id"`
	Prefix      string     `json:"prefix"`
	Digest      string     `json:"-"`
	BypassQuota bool       `json:"bypass_quota"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the record has an expiry at or before now.
func (c *CredentialRecord) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// CredentialMatch is a credential record joined with its owning account.
type CredentialMatch struct {
	Credential CredentialRecord
	Account    Account
}
