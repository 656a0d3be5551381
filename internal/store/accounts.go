package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/abund-gatekeeper/internal/model"
)

const accountColumns = `id, handle, display_name, is_verified, is_claimed, claim_code, claimed_at, created_at`

func (p *Postgres) CreateAccount(ctx context.Context, account *model.Account) error {
	return insertAccount(ctx, p.pool, account)
}

func (p *Postgres) CreateAccountWithCredential(ctx context.Context, account *model.Account, cred *model.CredentialRecord) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertAccount(ctx, tx, account); err != nil {
			return err
		}
		cred.AccountID = account.ID
		return firstCredential(insertCredential(ctx, tx, cred))
	})
}

func insertAccount(ctx context.Context, q querier, account *model.Account) error {
	var claimCode interface{}
	if account.ClaimCode != "" {
		claimCode = account.ClaimCode
	}

	err := q.QueryRow(ctx, `
		INSERT INTO accounts (handle, display_name, is_verified, is_claimed, claim_code)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, account.Handle, account.DisplayName, account.IsVerified, account.IsClaimed, claimCode,
	).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", translate(err))
	}
	return nil
}

func (p *Postgres) GetAccountByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return p.scanAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (p *Postgres) GetAccountByHandle(ctx context.Context, handle string) (*model.Account, error) {
	return p.scanAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE handle = $1`, handle)
}

func (p *Postgres) GetAccountByClaimCode(ctx context.Context, code string) (*model.Account, error) {
	return p.scanAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE claim_code = $1`, code)
}

func (p *Postgres) MarkClaimed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE accounts SET is_claimed = TRUE, claimed_at = $1, claim_code = NULL
		WHERE id = $2 AND is_claimed = FALSE
	`, at, id)
	if err != nil {
		return fmt.Errorf("mark account claimed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) scanAccount(ctx context.Context, query string, args ...interface{}) (*model.Account, error) {
	var a model.Account
	var claimCode *string
	err := p.pool.QueryRow(ctx, query, args...).Scan(
		&a.ID, &a.Handle, &a.DisplayName, &a.IsVerified, &a.IsClaimed,
		&claimCode, &a.ClaimedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", translate(err))
	}
	if claimCode != nil {
		a.ClaimCode = *claimCode
	}
	return &a, nil
}
