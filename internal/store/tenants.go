package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// InsertTenantParams is the write-side shape; HierarchyLevel and
// HierarchyPath are computed by internal/identity before this is called —
// store never recomputes them, it only persists what it's given.
type InsertTenantParams struct {
	ID             uuid.UUID
	Slug           string
	Name           string
	AccountType    AccountType
	IsolationMode  IsolationMode
	ParentID       *uuid.UUID
	HierarchyLevel int
	HierarchyPath  string
	Settings       json.RawMessage
}

func (q *Queries) InsertTenant(ctx context.Context, p InsertTenantParams) (Tenant, error) {
	const query = `
		INSERT INTO tenants (id, slug, name, account_type, isolation_mode, parent_id, hierarchy_level, hierarchy_path, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, slug, name, account_type, isolation_mode, parent_id, hierarchy_level, hierarchy_path, settings, created_at, updated_at`
	var t Tenant
	err := q.db.QueryRow(ctx, query, p.ID, p.Slug, p.Name, p.AccountType, p.IsolationMode, p.ParentID, p.HierarchyLevel, p.HierarchyPath, p.Settings).
		Scan(&t.ID, &t.Slug, &t.Name, &t.AccountType, &t.IsolationMode, &t.ParentID, &t.HierarchyLevel, &t.HierarchyPath, &t.Settings, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (q *Queries) GetTenantByID(ctx context.Context, id uuid.UUID) (Tenant, error) {
	const query = `
		SELECT id, slug, name, account_type, isolation_mode, parent_id, hierarchy_level, hierarchy_path, settings, created_at, updated_at
		FROM tenants WHERE id = $1`
	var t Tenant
	err := q.db.QueryRow(ctx, query, id).
		Scan(&t.ID, &t.Slug, &t.Name, &t.AccountType, &t.IsolationMode, &t.ParentID, &t.HierarchyLevel, &t.HierarchyPath, &t.Settings, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (q *Queries) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	const query = `
		SELECT id, slug, name, account_type, isolation_mode, parent_id, hierarchy_level, hierarchy_path, settings, created_at, updated_at
		FROM tenants WHERE slug = $1`
	var t Tenant
	err := q.db.QueryRow(ctx, query, slug).
		Scan(&t.ID, &t.Slug, &t.Name, &t.AccountType, &t.IsolationMode, &t.ParentID, &t.HierarchyLevel, &t.HierarchyPath, &t.Settings, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// ListChildTenants returns the direct children of parentID (matched on
// parent_id), oldest first.
func (q *Queries) ListChildTenants(ctx context.Context, parentID uuid.UUID) ([]Tenant, error) {
	const query = `
		SELECT id, slug, name, account_type, isolation_mode, parent_id, hierarchy_level, hierarchy_path, settings, created_at, updated_at
		FROM tenants WHERE parent_id = $1 ORDER BY created_at`
	rows, err := q.db.Query(ctx, query, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.AccountType, &t.IsolationMode, &t.ParentID, &t.HierarchyLevel, &t.HierarchyPath, &t.Settings, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountNonTerminalChildren supports the "reject delete if sub-tenants exist"
// invariant.
func (q *Queries) CountNonTerminalChildren(ctx context.Context, tenantID uuid.UUID) (int, error) {
	const query = `SELECT count(*) FROM tenants WHERE parent_id = $1`
	var n int
	err := q.db.QueryRow(ctx, query, tenantID).Scan(&n)
	return n, err
}

func (q *Queries) DeleteTenantCascade(ctx context.Context, tenantID uuid.UUID) error {
	// Foreign keys declared ON DELETE CASCADE across the migrations make
	// this single statement remove child tenants, memberships, applications,
	// connections and sessions; audit_logs rows are kept with their tenant
	// reference set to NULL.
	const query = `DELETE FROM tenants WHERE id = $1`
	_, err := q.db.Exec(ctx, query, tenantID)
	return err
}

func (q *Queries) CreateMembership(ctx context.Context, userID, tenantID uuid.UUID, role string) (TenantMember, error) {
	const query = `
		INSERT INTO tenant_members (user_id, tenant_id, role)
		VALUES ($1, $2, $3)
		RETURNING user_id, tenant_id, role, joined_at`
	var m TenantMember
	err := q.db.QueryRow(ctx, query, userID, tenantID, role).Scan(&m.UserID, &m.TenantID, &m.Role, &m.JoinedAt)
	return m, err
}

func (q *Queries) GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (TenantMember, error) {
	const query = `SELECT user_id, tenant_id, role, joined_at FROM tenant_members WHERE user_id = $1 AND tenant_id = $2`
	var m TenantMember
	err := q.db.QueryRow(ctx, query, userID, tenantID).Scan(&m.UserID, &m.TenantID, &m.Role, &m.JoinedAt)
	return m, err
}

func (q *Queries) ListTenantMembers(ctx context.Context, tenantID uuid.UUID) ([]TenantMember, error) {
	const query = `SELECT user_id, tenant_id, role, joined_at FROM tenant_members WHERE tenant_id = $1 ORDER BY joined_at`
	rows, err := q.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TenantMember
	for rows.Next() {
		var m TenantMember
		if err := rows.Scan(&m.UserID, &m.TenantID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *Queries) UpdateMemberRole(ctx context.Context, tenantID, userID uuid.UUID, role string) error {
	const query = `UPDATE tenant_members SET role = $3 WHERE tenant_id = $1 AND user_id = $2`
	_, err := q.db.Exec(ctx, query, tenantID, userID, role)
	return err
}

func (q *Queries) RemoveMember(ctx context.Context, tenantID, userID uuid.UUID) error {
	const query = `DELETE FROM tenant_members WHERE tenant_id = $1 AND user_id = $2`
	_, err := q.db.Exec(ctx, query, tenantID, userID)
	return err
}
