package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only request record. IPHash is salted per UTC
// day; the raw IP is never stored.
type AuditEntry struct {
	ID         uuid.UUID  `json:"id"`
	IPHash     string     `json:"ip_hash"`
	Method     string     `json:"method"`
	Path       string     `json:"path"`
	AccountID  *uuid.UUID `json:"account_id,omitempty"`
	StatusCode int        `json:"status_code"`
	LatencyMS  int64      `json:"latency_ms"`
	UserAgent  string     `json:"user_agent"`
	RequestID  string     `json:"request_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
