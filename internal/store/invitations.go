package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// invitations.go backs the invite-based registration flow: a hashed,
// single-use token addressed to an email, bound to one tenant and role.

func (q *Queries) CreateInvitation(ctx context.Context, id uuid.UUID, email string, tenantID uuid.UUID, role, tokenHash string, expiresAt time.Time) (Invitation, error) {
	const query = `
		INSERT INTO invitations (id, email, tenant_id, role, token_hash, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, email, tenant_id, role, token_hash, expires_at, accepted_at, created_at`
	var inv Invitation
	err := q.db.QueryRow(ctx, query, id, email, tenantID, role, tokenHash, expiresAt).
		Scan(&inv.ID, &inv.Email, &inv.TenantID, &inv.Role, &inv.TokenHash, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt)
	return inv, err
}

func (q *Queries) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (Invitation, error) {
	const query = `
		SELECT id, email, tenant_id, role, token_hash, expires_at, accepted_at, created_at
		FROM invitations WHERE token_hash = $1 AND accepted_at IS NULL AND expires_at > now()`
	var inv Invitation
	err := q.db.QueryRow(ctx, query, tokenHash).
		Scan(&inv.ID, &inv.Email, &inv.TenantID, &inv.Role, &inv.TokenHash, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt)
	return inv, err
}

func (q *Queries) MarkInvitationAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `UPDATE invitations SET accepted_at = now() WHERE id = $1 AND accepted_at IS NULL`
	tag, err := q.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CleanExpiredInvitations deletes never-accepted invitations past their
// expiry; run from cmd/worker's janitor loop.
func (q *Queries) CleanExpiredInvitations(ctx context.Context) (int64, error) {
	const query = `DELETE FROM invitations WHERE accepted_at IS NULL AND expires_at < now()`
	tag, err := q.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
