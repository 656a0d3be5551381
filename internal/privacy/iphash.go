// Package privacy derives non-reversible identifiers from client IPs.
package privacy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	auditSaltInfo = "abund-audit-ip:"
	quotaKeyInfo  = "abund-quota-ip"
	saltBytes     = 32

	// quotaHashLen keeps quota cache keys short.
	quotaHashLen = 16
)

// Hasher hashes IPs with keys derived from a server secret. Audit hashes
// use a salt that rotates at every UTC midnight; quota hashes use a stable
// key so counters survive the rotation.
type Hasher struct {
	secret   []byte
	quotaKey []byte
	now      func() time.Time
}

// NewHasher creates a Hasher. A nil now uses time.Now.
func NewHasher(secret []byte, now func() time.Time) (*Hasher, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("ip hash secret is empty")
	}
	if now == nil {
		now = time.Now
	}
	quotaKey, err := derive(secret, quotaKeyInfo)
	if err != nil {
		return nil, err
	}
	return &Hasher{secret: secret, quotaKey: quotaKey, now: now}, nil
}

// DailySalt returns the salt in effect on the UTC calendar date of t.
func (h *Hasher) DailySalt(t time.Time) ([]byte, error) {
	return derive(h.secret, auditSaltInfo+t.UTC().Format("2006-01-02"))
}

// AuditHash returns the privacy hash of ip for today's salt. The same IP
// hashes identically within one UTC day and differently across days.
func (h *Hasher) AuditHash(ip string) (string, error) {
	return h.AuditHashAt(ip, h.now())
}

// AuditHashAt hashes ip with the salt of the UTC day containing t.
func (h *Hasher) AuditHashAt(ip string, t time.Time) (string, error) {
	salt, err := h.DailySalt(t)
	if err != nil {
		return "", err
	}
	return mac(salt, ip), nil
}

// QuotaHash returns a short stable identifier for ip, used in quota keys.
func (h *Hasher) QuotaHash(ip string) string {
	return mac(h.quotaKey, ip)[:quotaHashLen]
}

func derive(secret []byte, info string) ([]byte, error) {
	out := make([]byte, saltBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("derive key %q: %w", info, err)
	}
	return out, nil
}

func mac(key []byte, value string) string {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(value))
	return hex.EncodeToString(m.Sum(nil))
}
