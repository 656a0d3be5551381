package store

import (
	"context"
	"fmt"

	"github.com/abund-gatekeeper/internal/model"
)

func (p *Postgres) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO audit_log (id, ip_hash, method, path, account_id, status_code, latency_ms, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.IPHash, e.Method, e.Path, e.AccountID, e.StatusCode, e.LatencyMS, e.UserAgent, e.RequestID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
