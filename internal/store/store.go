package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/abund-gatekeeper/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// CredentialLookup is the read path used on every authenticated request.
type CredentialLookup interface {
	// FindCredentials returns every non-expired credential with the given
	// prefix, joined with its owning account.
	FindCredentials(ctx context.Context, prefix string) ([]model.CredentialMatch, error)
	TouchCredential(ctx context.Context, id uuid.UUID, at time.Time) error
	// AccountIDByPrefix is a diagnostic lookup for audit records only.
	AccountIDByPrefix(ctx context.Context, prefix string) (uuid.UUID, error)
}

// AuditSink is the append-only request log.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
}

// AccountStore defines the issuance, claim and admin operations.
type AccountStore interface {
	GetAccountByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (*model.Account, error)
	GetAccountByClaimCode(ctx context.Context, code string) (*model.Account, error)
	MarkClaimed(ctx context.Context, id uuid.UUID, at time.Time) error

	// CreateAccountWithCredential inserts account and its first credential
	// in one transaction and sets cred.AccountID. ErrConflict means the
	// handle is taken.
	CreateAccountWithCredential(ctx context.Context, account *model.Account, cred *model.CredentialRecord) error

	CreateCredential(ctx context.Context, cred *model.CredentialRecord) error
	// ReplaceCredential deletes oldID and inserts cred in one transaction.
	// ErrNotFound means oldID is gone and nothing was inserted.
	ReplaceCredential(ctx context.Context, oldID uuid.UUID, cred *model.CredentialRecord) error
	GetCredentialByID(ctx context.Context, id uuid.UUID) (*model.CredentialRecord, error)
	ListCredentials(ctx context.Context, filters CredentialFilters) ([]*model.CredentialRecord, int, error)
	DeleteCredential(ctx context.Context, id uuid.UUID) error
	SetBypassQuota(ctx context.Context, id uuid.UUID, bypass bool) error
}

// Store combines every store concern plus a liveness check.
type Store interface {
	CredentialLookup
	AuditSink
	AccountStore
	Ping(ctx context.Context) error
}

type CredentialFilters struct {
	AccountID *uuid.UUID
	Page      int
	PerPage   int
}

// errDuplicateDigest reports a credential digest collision. It is kept
// apart from ErrConflict, which callers read as a taken handle.
var errDuplicateDigest = errors.New("insert credential: duplicate digest")

func firstCredential(err error) error {
	if errors.Is(err, ErrConflict) {
		return errDuplicateDigest
	}
	return err
}

func (f CredentialFilters) offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}
