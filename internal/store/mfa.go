package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CreateMfaMethodParams struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Type         MfaMethodType
	Secret       *string
	Phone        *string
	CredentialID *string
	PublicKey    []byte
	IsPrimary    bool
}

func (q *Queries) CreateMfaMethod(ctx context.Context, p CreateMfaMethodParams) (MfaMethod, error) {
	const query = `
		INSERT INTO mfa_methods (id, user_id, type, secret, phone, credential_id, public_key, sign_count, verified, is_primary)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,false,$8)
		RETURNING id, user_id, type, secret, phone, credential_id, public_key, sign_count, verified, is_primary, created_at`
	var m MfaMethod
	err := q.db.QueryRow(ctx, query, p.ID, p.UserID, p.Type, p.Secret, p.Phone, p.CredentialID, p.PublicKey, p.IsPrimary).
		Scan(&m.ID, &m.UserID, &m.Type, &m.Secret, &m.Phone, &m.CredentialID, &m.PublicKey, &m.SignCount, &m.Verified, &m.IsPrimary, &m.CreatedAt)
	return m, err
}

func (q *Queries) GetMfaMethod(ctx context.Context, id uuid.UUID) (MfaMethod, error) {
	const query = `
		SELECT id, user_id, type, secret, phone, credential_id, public_key, sign_count, verified, is_primary, created_at
		FROM mfa_methods WHERE id = $1`
	var m MfaMethod
	err := q.db.QueryRow(ctx, query, id).
		Scan(&m.ID, &m.UserID, &m.Type, &m.Secret, &m.Phone, &m.CredentialID, &m.PublicKey, &m.SignCount, &m.Verified, &m.IsPrimary, &m.CreatedAt)
	return m, err
}

func (q *Queries) ListMfaMethodsForUser(ctx context.Context, userID uuid.UUID) ([]MfaMethod, error) {
	const query = `
		SELECT id, user_id, type, secret, phone, credential_id, public_key, sign_count, verified, is_primary, created_at
		FROM mfa_methods WHERE user_id = $1 ORDER BY created_at`
	rows, err := q.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MfaMethod
	for rows.Next() {
		var m MfaMethod
		if err := rows.Scan(&m.ID, &m.UserID, &m.Type, &m.Secret, &m.Phone, &m.CredentialID, &m.PublicKey, &m.SignCount, &m.Verified, &m.IsPrimary, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *Queries) ActivateMfaMethod(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE mfa_methods SET verified = true WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

func (q *Queries) DeleteMfaMethod(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM mfa_methods WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

type CreateMfaChallengeParams struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ChallengeToken string
	MethodID       *uuid.UUID
	CodeHash       *string
	IP             string
	ExpiresAt      time.Time
}

func (q *Queries) CreateMfaChallenge(ctx context.Context, p CreateMfaChallengeParams) (MfaChallenge, error) {
	const query = `
		INSERT INTO mfa_challenges (id, user_id, challenge_token, method_id, code_hash, verified, attempts, ip, expires_at)
		VALUES ($1,$2,$3,$4,$5,false,0,$6,$7)
		RETURNING id, user_id, challenge_token, method_id, code_hash, verified, attempts, ip, expires_at, created_at`
	var c MfaChallenge
	err := q.db.QueryRow(ctx, query, p.ID, p.UserID, p.ChallengeToken, p.MethodID, p.CodeHash, p.IP, p.ExpiresAt).
		Scan(&c.ID, &c.UserID, &c.ChallengeToken, &c.MethodID, &c.CodeHash, &c.Verified, &c.Attempts, &c.IP, &c.ExpiresAt, &c.CreatedAt)
	return c, err
}

func (q *Queries) GetMfaChallenge(ctx context.Context, challengeToken string) (MfaChallenge, error) {
	const query = `
		SELECT id, user_id, challenge_token, method_id, code_hash, verified, attempts, ip, expires_at, created_at
		FROM mfa_challenges WHERE challenge_token = $1`
	var c MfaChallenge
	err := q.db.QueryRow(ctx, query, challengeToken).
		Scan(&c.ID, &c.UserID, &c.ChallengeToken, &c.MethodID, &c.CodeHash, &c.Verified, &c.Attempts, &c.IP, &c.ExpiresAt, &c.CreatedAt)
	return c, err
}

// IncrementMfaChallengeAttempts enforces the attempt cap: callers
// reject once Attempts exceeds the configured ceiling.
func (q *Queries) IncrementMfaChallengeAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	const query = `UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`
	var attempts int
	err := q.db.QueryRow(ctx, query, id).Scan(&attempts)
	return attempts, err
}

func (q *Queries) MarkMfaChallengeVerified(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE mfa_challenges SET verified = true WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

// CleanExpiredMfaChallenges sweeps stale, never-verified challenges; run
// from cmd/worker's janitor loop.
func (q *Queries) CleanExpiredMfaChallenges(ctx context.Context) (int64, error) {
	const query = `DELETE FROM mfa_challenges WHERE verified = false AND expires_at < now()`
	tag, err := q.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
