package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CreateAuditLogParams struct {
	ID          uuid.UUID
	TenantID    *uuid.UUID
	SubTenantID *uuid.UUID
	UserID      *uuid.UUID
	EventType   string
	Category    string
	Description string
	Metadata    []byte
	IP          string
	UserAgent   string
}

// CreateAuditLog writes directly to the month-partitioned audit_logs
// table. Callers inside an existing transaction get same-transaction
// durability for free; internal/audit falls back to the outbox when no
// transaction is available (e.g. a best-effort background write).
func (q *Queries) CreateAuditLog(ctx context.Context, p CreateAuditLogParams) error {
	const query = `
		INSERT INTO audit_logs (id, tenant_id, sub_tenant_id, user_id, event_type, category, description, metadata, ip, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := q.db.Exec(ctx, query, p.ID, p.TenantID, p.SubTenantID, p.UserID, p.EventType, p.Category, p.Description, p.Metadata, p.IP, p.UserAgent)
	return err
}

// ReplayAuditOutboxEvent re-attempts an audit write whose payload is a
// JSON-encoded CreateAuditLogParams, the shape internal/audit.DBLogger
// enqueues under the "audit.log" topic when its direct write fails.
func (q *Queries) ReplayAuditOutboxEvent(ctx context.Context, payload []byte) error {
	var p CreateAuditLogParams
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	return q.CreateAuditLog(ctx, p)
}

// EnsureAuditLogPartition creates (if absent) the monthly partition
// covering forMonth, backing cmd/worker's janitor so writes stay off the
// catch-all default partition (migrations/0007).
func (q *Queries) EnsureAuditLogPartition(ctx context.Context, forMonth time.Time) error {
	const query = `SELECT create_audit_log_month_partition($1)`
	_, err := q.db.Exec(ctx, query, forMonth)
	return err
}

func (q *Queries) ListAuditLogsForTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]AuditLog, error) {
	const query = `
		SELECT id, tenant_id, sub_tenant_id, user_id, event_type, category, description, metadata, ip, user_agent, created_at
		FROM audit_logs WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := q.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditLog
	for rows.Next() {
		var a AuditLog
		if err := rows.Scan(&a.ID, &a.TenantID, &a.SubTenantID, &a.UserID, &a.EventType, &a.Category, &a.Description, &a.Metadata, &a.IP, &a.UserAgent, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
