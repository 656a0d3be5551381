package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/abund-gatekeeper/internal/model"
)

// SQLite is a single-file store for development and tests. Pass ":memory:"
// for a throwaway database.
type SQLite struct {
	db  *sqlx.DB
	now func() time.Time
}

func OpenSQLite(path string) (*SQLite, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = ":memory:?_pragma=foreign_keys(1)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *SQLite) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			handle TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			is_verified INTEGER NOT NULL DEFAULT 0,
			is_claimed INTEGER NOT NULL DEFAULT 0,
			claim_code TEXT UNIQUE,
			claimed_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			prefix TEXT NOT NULL,
			digest TEXT UNIQUE NOT NULL,
			bypass_quota INTEGER NOT NULL DEFAULT 0,
			expires_at DATETIME,
			last_used_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_prefix ON credentials(prefix)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			ip_hash TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			account_id TEXT,
			status_code INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			user_agent TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}

type accountRow struct {
	ID          uuid.UUID      `db:"id"`
	Handle      string         `db:"handle"`
	DisplayName string         `db:"display_name"`
	IsVerified  bool           `db:"is_verified"`
	IsClaimed   bool           `db:"is_claimed"`
	ClaimCode   sql.NullString `db:"claim_code"`
	ClaimedAt   sql.NullTime   `db:"claimed_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r accountRow) toModel() model.Account {
	a := model.Account{
		ID:          r.ID,
		Handle:      r.Handle,
		DisplayName: r.DisplayName,
		IsVerified:  r.IsVerified,
		IsClaimed:   r.IsClaimed,
		ClaimCode:   r.ClaimCode.String,
		CreatedAt:   r.CreatedAt,
	}
	if r.ClaimedAt.Valid {
		t := r.ClaimedAt.Time
		a.ClaimedAt = &t
	}
	return a
}

type credentialRow struct {
	ID          uuid.UUID    `db:"id"`
	AccountID   uuid.UUID    `db:"account_id"`
	Prefix      string       `db:"prefix"`
	Digest      string       `db:"digest"`
	BypassQuota bool         `db:"bypass_quota"`
	ExpiresAt   sql.NullTime `db:"expires_at"`
	LastUsedAt  sql.NullTime `db:"last_used_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

func (r credentialRow) toModel() model.CredentialRecord {
	c := model.CredentialRecord{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Prefix:      r.Prefix,
		Digest:      r.Digest,
		BypassQuota: r.BypassQuota,
		CreatedAt:   r.CreatedAt,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		c.ExpiresAt = &t
	}
	if r.LastUsedAt.Valid {
		t := r.LastUsedAt.Time
		c.LastUsedAt = &t
	}
	return c
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func sqliteError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrConflict
	}
	return err
}

// --- Accounts ---

func (s *SQLite) CreateAccount(ctx context.Context, account *model.Account) error {
	return s.insertAccount(ctx, s.db, account)
}

func (s *SQLite) CreateAccountWithCredential(ctx context.Context, account *model.Account, cred *model.CredentialRecord) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.insertAccount(ctx, tx, account); err != nil {
			return err
		}
		cred.AccountID = account.ID
		return firstCredential(s.insertCredential(ctx, tx, cred))
	})
}

func (s *SQLite) insertAccount(ctx context.Context, db sqlx.ExecerContext, account *model.Account) error {
	account.ID = uuid.New()
	account.CreatedAt = s.now().UTC()

	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (id, handle, display_name, is_verified, is_claimed, claim_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.Handle, account.DisplayName, account.IsVerified, account.IsClaimed,
		nullString(account.ClaimCode), account.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", sqliteError(err))
	}
	return nil
}

func (s *SQLite) getAccount(ctx context.Context, where string, arg interface{}) (*model.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM accounts WHERE `+where+` = ?`, arg)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", sqliteError(err))
	}
	a := row.toModel()
	return &a, nil
}

func (s *SQLite) GetAccountByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return s.getAccount(ctx, "id", id)
}

func (s *SQLite) GetAccountByHandle(ctx context.Context, handle string) (*model.Account, error) {
	return s.getAccount(ctx, "handle", handle)
}

func (s *SQLite) GetAccountByClaimCode(ctx context.Context, code string) (*model.Account, error) {
	return s.getAccount(ctx, "claim_code", code)
}

func (s *SQLite) MarkClaimed(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET is_claimed = 1, claimed_at = ?, claim_code = NULL
		WHERE id = ? AND is_claimed = 0
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark account claimed: %w", err)
	}
	return requireAffected(res)
}

// --- Credentials ---

func (s *SQLite) FindCredentials(ctx context.Context, prefix string) ([]model.CredentialMatch, error) {
	var rows []struct {
		credentialRow
		Account accountRow `db:"a"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT c.*,
			a.id AS "a.id", a.handle AS "a.handle", a.display_name AS "a.display_name",
			a.is_verified AS "a.is_verified", a.is_claimed AS "a.is_claimed",
			a.claim_code AS "a.claim_code", a.claimed_at AS "a.claimed_at", a.created_at AS "a.created_at"
		FROM credentials c
		JOIN accounts a ON a.id = c.account_id
		WHERE c.prefix = ?
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}

	now := s.now()
	matches := make([]model.CredentialMatch, 0, len(rows))
	for _, r := range rows {
		m := model.CredentialMatch{Credential: r.credentialRow.toModel(), Account: r.Account.toModel()}
		if m.Credential.Expired(now) {
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *SQLite) TouchCredential(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE credentials SET last_used_at = ? WHERE id = ?`, at.UTC(), id); err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	return nil
}

func (s *SQLite) AccountIDByPrefix(ctx context.Context, prefix string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.GetContext(ctx, &id, `SELECT account_id FROM credentials WHERE prefix = ? LIMIT 1`, prefix)
	if err != nil {
		return uuid.Nil, fmt.Errorf("account by prefix: %w", sqliteError(err))
	}
	return id, nil
}

func (s *SQLite) CreateCredential(ctx context.Context, cred *model.CredentialRecord) error {
	return s.insertCredential(ctx, s.db, cred)
}

func (s *SQLite) ReplaceCredential(ctx context.Context, oldID uuid.UUID, cred *model.CredentialRecord) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := deleteCredentialSQL(ctx, tx, oldID); err != nil {
			return err
		}
		return s.insertCredential(ctx, tx, cred)
	})
}

func (s *SQLite) insertCredential(ctx context.Context, db sqlx.ExecerContext, cred *model.CredentialRecord) error {
	cred.ID = uuid.New()
	cred.CreatedAt = s.now().UTC()

	_, err := db.ExecContext(ctx, `
		INSERT INTO credentials (id, account_id, prefix, digest, bypass_quota, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cred.ID, cred.AccountID, cred.Prefix, cred.Digest, cred.BypassQuota, nullTime(cred.ExpiresAt), cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", sqliteError(err))
	}
	return nil
}

func (s *SQLite) GetCredentialByID(ctx context.Context, id uuid.UUID) (*model.CredentialRecord, error) {
	var row credentialRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM credentials WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get credential: %w", sqliteError(err))
	}
	c := row.toModel()
	return &c, nil
}

func (s *SQLite) ListCredentials(ctx context.Context, filters CredentialFilters) ([]*model.CredentialRecord, int, error) {
	where := ""
	args := []interface{}{}
	if filters.AccountID != nil {
		where = " WHERE account_id = ?"
		args = append(args, *filters.AccountID)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM credentials`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count credentials: %w", err)
	}

	var rows []credentialRow
	args = append(args, filters.PerPage, filters.offset())
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM credentials`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list credentials: %w", err)
	}

	creds := make([]*model.CredentialRecord, 0, len(rows))
	for _, r := range rows {
		c := r.toModel()
		creds = append(creds, &c)
	}
	return creds, total, nil
}

func (s *SQLite) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	return deleteCredentialSQL(ctx, s.db, id)
}

func deleteCredentialSQL(ctx context.Context, db sqlx.ExecerContext, id uuid.UUID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLite) SetBypassQuota(ctx context.Context, id uuid.UUID, bypass bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE credentials SET bypass_quota = ? WHERE id = ?`, bypass, id)
	if err != nil {
		return fmt.Errorf("set bypass_quota: %w", err)
	}
	return requireAffected(res)
}

// --- Audit ---

func (s *SQLite) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	var accountID interface{}
	if e.AccountID != nil {
		accountID = e.AccountID.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ip_hash, method, path, account_id, status_code, latency_ms, user_agent, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.IPHash, e.Method, e.Path, accountID, e.StatusCode, e.LatencyMS, e.UserAgent, e.RequestID, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditEntries returns every audit row, oldest first. Used by the CLI and tests.
func (s *SQLite) AuditEntries(ctx context.Context) ([]model.AuditEntry, error) {
	var rows []struct {
		ID         uuid.UUID      `db:"id"`
		IPHash     string         `db:"ip_hash"`
		Method     string         `db:"method"`
		Path       string         `db:"path"`
		AccountID  sql.NullString `db:"account_id"`
		StatusCode int            `db:"status_code"`
		LatencyMS  int64          `db:"latency_ms"`
		UserAgent  string         `db:"user_agent"`
		RequestID  string         `db:"request_id"`
		CreatedAt  time.Time      `db:"created_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM audit_log ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	entries := make([]model.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := model.AuditEntry{
			ID: r.ID, IPHash: r.IPHash, Method: r.Method, Path: r.Path,
			StatusCode: r.StatusCode, LatencyMS: r.LatencyMS, UserAgent: r.UserAgent,
			RequestID: r.RequestID, CreatedAt: r.CreatedAt,
		}
		if r.AccountID.Valid {
			if id, err := uuid.Parse(r.AccountID.String); err == nil {
				e.AccountID = &id
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
