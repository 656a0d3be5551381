package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/abund-gatekeeper/internal/model"
)

const credentialColumns = `id, account_id, prefix, digest, bypass_quota, expires_at, last_used_at, created_at`

func (p *Postgres) FindCredentials(ctx context.Context, prefix string) ([]model.CredentialMatch, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT c.id, c.account_id, c.prefix, c.digest, c.bypass_quota,
			c.expires_at, c.last_used_at, c.created_at,
			a.id, a.handle, a.display_name, a.is_verified, a.is_claimed,
			a.claim_code, a.claimed_at, a.created_at
		FROM credentials c
		JOIN accounts a ON a.id = c.account_id
		WHERE c.prefix = $1 AND (c.expires_at IS NULL OR c.expires_at > NOW())
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var matches []model.CredentialMatch
	for rows.Next() {
		var m model.CredentialMatch
		var claimCode *string
		err := rows.Scan(
			&m.Credential.ID, &m.Credential.AccountID, &m.Credential.Prefix, &m.Credential.Digest,
			&m.Credential.BypassQuota, &m.Credential.ExpiresAt, &m.Credential.LastUsedAt, &m.Credential.CreatedAt,
			&m.Account.ID, &m.Account.Handle, &m.Account.DisplayName, &m.Account.IsVerified, &m.Account.IsClaimed,
			&claimCode, &m.Account.ClaimedAt, &m.Account.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		if claimCode != nil {
			m.Account.ClaimCode = *claimCode
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return matches, nil
}

func (p *Postgres) TouchCredential(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE credentials SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	return nil
}

func (p *Postgres) AccountIDByPrefix(ctx context.Context, prefix string) (uuid.UUID, error) {
	var id uuid.UUID
	err := p.pool.QueryRow(ctx, `SELECT account_id FROM credentials WHERE prefix = $1 LIMIT 1`, prefix).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("account by prefix: %w", translate(err))
	}
	return id, nil
}

func (p *Postgres) CreateCredential(ctx context.Context, cred *model.CredentialRecord) error {
	return insertCredential(ctx, p.pool, cred)
}

func (p *Postgres) ReplaceCredential(ctx context.Context, oldID uuid.UUID, cred *model.CredentialRecord) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if err := deleteCredential(ctx, tx, oldID); err != nil {
			return err
		}
		return insertCredential(ctx, tx, cred)
	})
}

func insertCredential(ctx context.Context, q querier, cred *model.CredentialRecord) error {
	err := q.QueryRow(ctx, `
		INSERT INTO credentials (account_id, prefix, digest, bypass_quota, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, cred.AccountID, cred.Prefix, cred.Digest, cred.BypassQuota, cred.ExpiresAt,
	).Scan(&cred.ID, &cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", translate(err))
	}
	return nil
}

func (p *Postgres) GetCredentialByID(ctx context.Context, id uuid.UUID) (*model.CredentialRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanCredentialFromRow(rows)
}

func (p *Postgres) ListCredentials(ctx context.Context, filters CredentialFilters) ([]*model.CredentialRecord, int, error) {
	where := ""
	args := []interface{}{}
	if filters.AccountID != nil {
		where = " WHERE account_id = $1"
		args = append(args, *filters.AccountID)
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credentials`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count credentials: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM credentials%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		credentialColumns, where, len(args)+1, len(args)+2)
	args = append(args, filters.PerPage, filters.offset())

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*model.CredentialRecord
	for rows.Next() {
		c, err := scanCredentialFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, total, nil
}

func (p *Postgres) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	return deleteCredential(ctx, p.pool, id)
}

func deleteCredential(ctx context.Context, q querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetBypassQuota(ctx context.Context, id uuid.UUID, bypass bool) error {
	tag, err := p.pool.Exec(ctx, `UPDATE credentials SET bypass_quota = $1 WHERE id = $2`, bypass, id)
	if err != nil {
		return fmt.Errorf("set bypass_quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCredentialFromRow(rows pgx.Rows) (*model.CredentialRecord, error) {
	var c model.CredentialRecord
	err := rows.Scan(
		&c.ID, &c.AccountID, &c.Prefix, &c.Digest, &c.BypassQuota,
		&c.ExpiresAt, &c.LastUsedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &c, nil
}
