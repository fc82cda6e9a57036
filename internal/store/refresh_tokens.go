package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CreateRefreshTokenParams struct {
	ID         uuid.UUID
	TokenHash  string
	ClientID   string
	UserID     uuid.UUID
	TenantID   *uuid.UUID
	FamilyID   uuid.UUID
	Scope      string
	Audience   *string
	SessionID  *uuid.UUID
	IPAddress  *string
	UserAgent  *string
	ExpiresAt  *time.Time
}

func (q *Queries) CreateRefreshToken(ctx context.Context, p CreateRefreshTokenParams) (RefreshToken, error) {
	const query = `
		INSERT INTO refresh_tokens
			(id, token_hash, client_id, user_id, tenant_id, family_id, scope, audience, session_id, ip_address, user_agent, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, token_hash, client_id, user_id, tenant_id, family_id, scope, audience, session_id, ip_address, user_agent, expires_at, revoked_at, replaced_by, created_at`
	var t RefreshToken
	err := q.db.QueryRow(ctx, query,
		p.ID, p.TokenHash, p.ClientID, p.UserID, p.TenantID, p.FamilyID, p.Scope, p.Audience, p.SessionID, p.IPAddress, p.UserAgent, p.ExpiresAt).
		Scan(&t.ID, &t.TokenHash, &t.ClientID, &t.UserID, &t.TenantID, &t.FamilyID, &t.Scope, &t.Audience, &t.SessionID,
			&t.IPAddress, &t.UserAgent, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedBy, &t.CreatedAt)
	return t, err
}

func (q *Queries) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	const query = `
		SELECT id, token_hash, client_id, user_id, tenant_id, family_id, scope, audience, session_id, ip_address, user_agent, expires_at, revoked_at, replaced_by, created_at
		FROM refresh_tokens WHERE token_hash = $1`
	var t RefreshToken
	err := q.db.QueryRow(ctx, query, tokenHash).
		Scan(&t.ID, &t.TokenHash, &t.ClientID, &t.UserID, &t.TenantID, &t.FamilyID, &t.Scope, &t.Audience, &t.SessionID,
			&t.IPAddress, &t.UserAgent, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedBy, &t.CreatedAt)
	return t, err
}

// MarkRefreshTokenReplaced links a rotated token to its successor. Callers
// run this inside a transaction so the rotation is atomic with respect to
// a concurrent reuse attempt.
func (q *Queries) MarkRefreshTokenReplaced(ctx context.Context, id, replacedBy uuid.UUID) error {
	const query = `UPDATE refresh_tokens SET replaced_by = $2 WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, replacedBy)
	return err
}

// RevokeRefreshTokenFamily is the "nuclear option" for reuse detection:
// every unrevoked token sharing family_id is burned at once.
func (q *Queries) RevokeRefreshTokenFamily(ctx context.Context, familyID uuid.UUID) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked_at = now() WHERE family_id = $1 AND revoked_at IS NULL`
	tag, err := q.db.Exec(ctx, query, familyID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE refresh_tokens SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

func (q *Queries) RevokeRefreshTokensForSession(ctx context.Context, sessionID uuid.UUID) error {
	const query = `UPDATE refresh_tokens SET revoked_at = now() WHERE session_id = $1 AND revoked_at IS NULL`
	_, err := q.db.Exec(ctx, query, sessionID)
	return err
}

func (q *Queries) RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	const query = `UPDATE refresh_tokens SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`
	_, err := q.db.Exec(ctx, query, userID)
	return err
}

// CleanExpiredRefreshTokens backs cmd/worker's hourly janitor loop. The
// 30-day retention past expiry keeps lineage rows inspectable after an
// incident.
func (q *Queries) CleanExpiredRefreshTokens(ctx context.Context) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at IS NOT NULL AND expires_at < now() - interval '30 days'`
	tag, err := q.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
