package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

type CreateConnectionParams struct {
	ID       uuid.UUID
	TenantID *uuid.UUID
	Name     string
	Type     ConnectionType
	Scope    ConnectionScope
	Config   json.RawMessage
}

func (q *Queries) CreateConnection(ctx context.Context, p CreateConnectionParams) (Connection, error) {
	// Write-boundary invariant scope=platform <=> tenant_id=NULL is
	// enforced by internal/identity before this call and again here via the
	// CHECK constraint in migrations/0001.
	const query = `
		INSERT INTO connections (id, tenant_id, name, type, scope, config, is_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		RETURNING id, tenant_id, name, type, scope, config, is_enabled, created_at, updated_at`
	var c Connection
	err := q.db.QueryRow(ctx, query, p.ID, p.TenantID, p.Name, p.Type, p.Scope, p.Config).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.Type, &c.Scope, &c.Config, &c.IsEnabled, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (q *Queries) GetConnectionByID(ctx context.Context, id uuid.UUID) (Connection, error) {
	const query = `
		SELECT id, tenant_id, name, type, scope, config, is_enabled, created_at, updated_at
		FROM connections WHERE id = $1`
	var c Connection
	err := q.db.QueryRow(ctx, query, id).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.Type, &c.Scope, &c.Config, &c.IsEnabled, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (q *Queries) ListConnectionsForTenant(ctx context.Context, tenantID uuid.UUID) ([]Connection, error) {
	const query = `
		SELECT id, tenant_id, name, type, scope, config, is_enabled, created_at, updated_at
		FROM connections WHERE tenant_id = $1 OR tenant_id IS NULL ORDER BY created_at`
	rows, err := q.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Name, &c.Type, &c.Scope, &c.Config, &c.IsEnabled, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) SetConnectionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	const query = `UPDATE connections SET is_enabled = $2, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, enabled)
	return err
}

// UserIdentity links a local user to an upstream federated identity.
type UserIdentity struct {
	UserID       uuid.UUID
	ConnectionID uuid.UUID
	SubjectID    string
}

func (q *Queries) LinkUserIdentity(ctx context.Context, userID, connectionID uuid.UUID, subjectID string) error {
	const query = `
		INSERT INTO user_identities (user_id, connection_id, subject_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (connection_id, subject_id) DO NOTHING`
	_, err := q.db.Exec(ctx, query, userID, connectionID, subjectID)
	return err
}

func (q *Queries) FindUserByIdentity(ctx context.Context, connectionID uuid.UUID, subjectID string) (uuid.UUID, error) {
	const query = `SELECT user_id FROM user_identities WHERE connection_id = $1 AND subject_id = $2`
	var userID uuid.UUID
	err := q.db.QueryRow(ctx, query, connectionID, subjectID).Scan(&userID)
	return userID, err
}
