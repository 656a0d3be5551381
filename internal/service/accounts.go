package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/abund-gatekeeper/internal/credential"
	"github.com/abund-gatekeeper/internal/model"
	"github.com/abund-gatekeeper/internal/store"
	"github.com/abund-gatekeeper/internal/validation"
)

// AccountService handles registration, claiming and credential lifecycle.
type AccountService struct {
	store        store.AccountStore
	claimBaseURL string
	now          func() time.Time
}

// NewAccountService creates a new account service. A nil now uses time.Now.
func NewAccountService(store store.AccountStore, claimBaseURL string, now func() time.Time) *AccountService {
	if now == nil {
		now = time.Now
	}
	return &AccountService{
		store:        store,
		claimBaseURL: strings.TrimRight(claimBaseURL, "/"),
		now:          now,
	}
}

// ClaimURL is where an owner proves control of an unclaimed account.
func (s *AccountService) ClaimURL(claimCode string) string {
	return s.claimBaseURL + "/" + claimCode
}

// RegisterInput contains the parameters for creating an account.
type RegisterInput struct {
	Handle      string
	DisplayName string
}

// RegisterResult carries the only copy of the raw credential.
type RegisterResult struct {
	Account       *model.Account
	Credential    *model.CredentialRecord
	RawCredential string
	ClaimURL      string
}

// Register creates an unclaimed account and its first credential.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	handle := validation.NormalizeHandle(input.Handle)
	if handle == "" {
		return nil, NewBadRequest("invalid_request", "handle is required")
	}
	if err := validation.Handle(handle); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if err := validation.DisplayName(displayName); err != nil {
		return nil, NewBadRequest("invalid_request", err.Error())
	}

	account := &model.Account{
		Handle:      handle,
		DisplayName: displayName,
		ClaimCode:   credential.GenerateClaimCode(),
	}
	raw, cred := newCredential(uuid.Nil, nil, false)
	if err := s.store.CreateAccountWithCredential(ctx, account, cred); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, NewConflict("handle_taken", "Handle is already registered")
		}
		log.Error().Err(err).Str("handle", handle).Msg("failed to create account")
		return nil, NewInternal("internal_error", "Failed to register account")
	}

	return &RegisterResult{
		Account:       account,
		Credential:    cred,
		RawCredential: raw,
		ClaimURL:      s.ClaimURL(account.ClaimCode),
	}, nil
}

// Claim marks the account owning code as claimed. Codes are single use.
func (s *AccountService) Claim(ctx context.Context, code string) (*model.Account, error) {
	if !strings.HasPrefix(code, credential.ClaimTag) {
		return nil, NewNotFound("invalid_claim_code", "Claim code not found")
	}

	account, err := s.store.GetAccountByClaimCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("invalid_claim_code", "Claim code not found")
		}
		log.Error().Err(err).Msg("failed to look up claim code")
		return nil, NewInternal("internal_error", "Failed to claim account")
	}

	if err := s.store.MarkClaimed(ctx, account.ID, s.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewConflict("already_claimed", "Account has already been claimed")
		}
		log.Error().Err(err).Str("account_id", account.ID.String()).Msg("failed to mark account claimed")
		return nil, NewInternal("internal_error", "Failed to claim account")
	}

	return s.GetAccount(ctx, account.ID)
}

// GetAccount returns an account by ID.
func (s *AccountService) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	account, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "Account not found")
		}
		log.Error().Err(err).Str("account_id", id.String()).Msg("failed to get account")
		return nil, NewInternal("internal_error", "Failed to get account")
	}
	return account, nil
}

// IssueInput contains the parameters for an additional credential.
type IssueInput struct {
	ExpiresAt   *time.Time
	BypassQuota bool
}

// IssueResult carries the only copy of a newly issued raw credential.
type IssueResult struct {
	Credential    *model.CredentialRecord
	RawCredential string
}

// IssueCredential creates another credential for an existing account.
func (s *AccountService) IssueCredential(ctx context.Context, accountID uuid.UUID, input IssueInput) (*IssueResult, error) {
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, NewBadRequest("invalid_request", "expires_at must be in the future")
	}
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	raw, cred, err := s.issue(ctx, accountID, input.ExpiresAt, input.BypassQuota)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID.String()).Msg("failed to issue credential")
		return nil, NewInternal("internal_error", "Failed to issue credential")
	}
	return &IssueResult{Credential: cred, RawCredential: raw}, nil
}

// RotateCredential replaces a credential with a fresh one carrying the same
// account, expiry and bypass flag. The old credential stops working.
func (s *AccountService) RotateCredential(ctx context.Context, id uuid.UUID) (*IssueResult, error) {
	old, err := s.getCredential(ctx, id)
	if err != nil {
		return nil, err
	}

	raw, cred := newCredential(old.AccountID, old.ExpiresAt, old.BypassQuota)
	if err := s.store.ReplaceCredential(ctx, id, cred); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "Credential not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to rotate credential")
		return nil, NewInternal("internal_error", "Failed to rotate credential")
	}
	return &IssueResult{Credential: cred, RawCredential: raw}, nil
}

// RevokeCredential deletes a credential.
func (s *AccountService) RevokeCredential(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteCredential(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFound("not_found", "Credential not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to revoke credential")
		return NewInternal("internal_error", "Failed to revoke credential")
	}
	return nil
}

// SetBypass toggles the quota bypass flag of a credential.
func (s *AccountService) SetBypass(ctx context.Context, id uuid.UUID, bypass bool) (*model.CredentialRecord, error) {
	if err := s.store.SetBypassQuota(ctx, id, bypass); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "Credential not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to set bypass flag")
		return nil, NewInternal("internal_error", "Failed to update credential")
	}
	return s.getCredential(ctx, id)
}

// ListCredentials returns one page of credential records and the total.
func (s *AccountService) ListCredentials(ctx context.Context, filters store.CredentialFilters) ([]*model.CredentialRecord, int, error) {
	creds, total, err := s.store.ListCredentials(ctx, filters)
	if err != nil {
		log.Error().Err(err).Msg("failed to list credentials")
		return nil, 0, NewInternal("internal_error", "Failed to list credentials")
	}
	return creds, total, nil
}

func (s *AccountService) getCredential(ctx context.Context, id uuid.UUID) (*model.CredentialRecord, error) {
	cred, err := s.store.GetCredentialByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFound("not_found", "Credential not found")
		}
		log.Error().Err(err).Str("id", id.String()).Msg("failed to get credential")
		return nil, NewInternal("internal_error", "Failed to get credential")
	}
	return cred, nil
}

func (s *AccountService) issue(ctx context.Context, accountID uuid.UUID, expiresAt *time.Time, bypass bool) (string, *model.CredentialRecord, error) {
	raw, cred := newCredential(accountID, expiresAt, bypass)
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return "", nil, err
	}
	return raw, cred, nil
}

// newCredential generates a raw credential and the record that stores it.
func newCredential(accountID uuid.UUID, expiresAt *time.Time, bypass bool) (string, *model.CredentialRecord) {
	raw := credential.Generate()
	return raw, &model.CredentialRecord{
		AccountID:   accountID,
		Prefix:      credential.LookupPrefix(raw),
		Digest:      credential.Digest(raw),
		BypassQuota: bypass,
		ExpiresAt:   expiresAt,
	}
}
