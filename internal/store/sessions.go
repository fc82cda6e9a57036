package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CreateLoginSessionParams struct {
	ID              uuid.UUID
	TokenHash       string
	UserID          uuid.UUID
	TenantID        *uuid.UUID
	IP              string
	UserAgent       string
	ExpiresAt       time.Time
	MFAVerified     bool
}

func (q *Queries) CreateLoginSession(ctx context.Context, p CreateLoginSessionParams) (LoginSession, error) {
	const query = `
		INSERT INTO login_sessions (id, token_hash, user_id, tenant_id, ip, user_agent, authenticated_at, last_active_at, expires_at, mfa_verified)
		VALUES ($1,$2,$3,$4,$5,$6, now(), now(), $7, $8)
		RETURNING id, token_hash, user_id, tenant_id, ip, user_agent, authenticated_at, last_active_at, expires_at, mfa_verified, revoked_at`
	var s LoginSession
	err := q.db.QueryRow(ctx, query, p.ID, p.TokenHash, p.UserID, p.TenantID, p.IP, p.UserAgent, p.ExpiresAt, p.MFAVerified).
		Scan(&s.ID, &s.TokenHash, &s.UserID, &s.TenantID, &s.IP, &s.UserAgent, &s.AuthenticatedAt, &s.LastActiveAt, &s.ExpiresAt, &s.MFAVerified, &s.RevokedAt)
	return s, err
}

func (q *Queries) GetLoginSessionByID(ctx context.Context, id uuid.UUID) (LoginSession, error) {
	const query = `
		SELECT id, token_hash, user_id, tenant_id, ip, user_agent, authenticated_at, last_active_at, expires_at, mfa_verified, revoked_at
		FROM login_sessions WHERE id = $1`
	var s LoginSession
	err := q.db.QueryRow(ctx, query, id).
		Scan(&s.ID, &s.TokenHash, &s.UserID, &s.TenantID, &s.IP, &s.UserAgent, &s.AuthenticatedAt, &s.LastActiveAt, &s.ExpiresAt, &s.MFAVerified, &s.RevokedAt)
	return s, err
}

func (q *Queries) ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]LoginSession, error) {
	const query = `
		SELECT id, token_hash, user_id, tenant_id, ip, user_agent, authenticated_at, last_active_at, expires_at, mfa_verified, revoked_at
		FROM login_sessions WHERE user_id = $1 AND revoked_at IS NULL ORDER BY last_active_at DESC`
	rows, err := q.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LoginSession
	for rows.Next() {
		var s LoginSession
		if err := rows.Scan(&s.ID, &s.TokenHash, &s.UserID, &s.TenantID, &s.IP, &s.UserAgent, &s.AuthenticatedAt, &s.LastActiveAt, &s.ExpiresAt, &s.MFAVerified, &s.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TouchLoginSession refreshes the idle-expiry clock.
func (q *Queries) TouchLoginSession(ctx context.Context, id uuid.UUID, idleExpiresAt time.Time) error {
	const query = `UPDATE login_sessions SET last_active_at = now(), expires_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	_, err := q.db.Exec(ctx, query, id, idleExpiresAt)
	return err
}

func (q *Queries) MarkLoginSessionMFAVerified(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE login_sessions SET mfa_verified = true WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

func (q *Queries) RevokeLoginSession(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE login_sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

func (q *Queries) RevokeAllLoginSessionsForUser(ctx context.Context, userID uuid.UUID) error {
	const query = `UPDATE login_sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`
	_, err := q.db.Exec(ctx, query, userID)
	return err
}
