package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// verification_tokens.go backs password reset, email verification, and
// magic-link login — one table, one single-use consumption rule,
// distinguished by kind so a reset token can't be replayed as a login link.

func (q *Queries) CreateVerificationToken(ctx context.Context, id, userID uuid.UUID, tokenHash string, kind VerificationTokenType, expiresAt time.Time) (VerificationToken, error) {
	const query = `
		INSERT INTO verification_tokens (id, user_id, token_hash, kind, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, token_hash, kind, expires_at, used_at, created_at`
	var v VerificationToken
	err := q.db.QueryRow(ctx, query, id, userID, tokenHash, kind, expiresAt).
		Scan(&v.ID, &v.UserID, &v.TokenHash, &v.Kind, &v.ExpiresAt, &v.UsedAt, &v.CreatedAt)
	return v, err
}

// ConsumeVerificationToken atomically marks a still-valid token used and
// returns it, so two concurrent requests with the same raw token can't both
// succeed (mirrors ConsumeAuthorizationCode's single-use pattern).
func (q *Queries) ConsumeVerificationToken(ctx context.Context, tokenHash string, kind VerificationTokenType) (VerificationToken, error) {
	const query = `
		UPDATE verification_tokens
		SET used_at = now()
		WHERE token_hash = $1 AND kind = $2 AND used_at IS NULL AND expires_at > now()
		RETURNING id, user_id, token_hash, kind, expires_at, used_at, created_at`
	var v VerificationToken
	err := q.db.QueryRow(ctx, query, tokenHash, kind).
		Scan(&v.ID, &v.UserID, &v.TokenHash, &v.Kind, &v.ExpiresAt, &v.UsedAt, &v.CreatedAt)
	return v, err
}

func (q *Queries) DeleteVerificationTokensForUser(ctx context.Context, userID uuid.UUID, kind VerificationTokenType) error {
	const query = `DELETE FROM verification_tokens WHERE user_id = $1 AND kind = $2 AND used_at IS NULL`
	_, err := q.db.Exec(ctx, query, userID, kind)
	return err
}

func (q *Queries) CleanExpiredVerificationTokens(ctx context.Context) (int64, error) {
	const query = `DELETE FROM verification_tokens WHERE expires_at < now() - interval '7 days'`
	tag, err := q.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
