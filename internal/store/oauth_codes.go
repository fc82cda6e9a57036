package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CreateAuthorizationCodeParams struct {
	Code                string
	ClientID            string
	UserID              uuid.UUID
	TenantID            *uuid.UUID
	RedirectURI         string
	Scope               string
	CodeChallenge       *string
	CodeChallengeMethod PKCEMethod
	Nonce               *string
	State               *string
	ExpiresAt           time.Time
}

func (q *Queries) CreateAuthorizationCode(ctx context.Context, p CreateAuthorizationCodeParams) error {
	const query = `
		INSERT INTO authorization_codes
			(code, client_id, user_id, tenant_id, redirect_uri, scope, code_challenge, code_challenge_method, nonce, state, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := q.db.Exec(ctx, query,
		p.Code, p.ClientID, p.UserID, p.TenantID, p.RedirectURI, p.Scope, p.CodeChallenge, p.CodeChallengeMethod, p.Nonce, p.State, p.ExpiresAt)
	return err
}

// ConsumeAuthorizationCode atomically marks a code used and returns its row,
// so a concurrent double-redeem sees used_at already set and must be treated
// as a replay — codes are single-use.
func (q *Queries) ConsumeAuthorizationCode(ctx context.Context, code string) (AuthorizationCode, error) {
	const query = `
		UPDATE authorization_codes SET used_at = now()
		WHERE code = $1 AND used_at IS NULL AND expires_at > now()
		RETURNING code, client_id, user_id, tenant_id, redirect_uri, scope, code_challenge, code_challenge_method, nonce, state, expires_at, used_at, refresh_family_id, created_at`
	var c AuthorizationCode
	err := q.db.QueryRow(ctx, query, code).Scan(
		&c.Code, &c.ClientID, &c.UserID, &c.TenantID, &c.RedirectURI, &c.Scope, &c.CodeChallenge, &c.CodeChallengeMethod,
		&c.Nonce, &c.State, &c.ExpiresAt, &c.UsedAt, &c.RefreshFamilyID, &c.CreatedAt)
	return c, err
}

// GetAuthorizationCode loads a code row whether or not it has been consumed.
// Used codes are retained briefly so a replay can be told apart from a code
// that never existed, and so the replay can burn the family it spawned.
func (q *Queries) GetAuthorizationCode(ctx context.Context, code string) (AuthorizationCode, error) {
	const query = `
		SELECT code, client_id, user_id, tenant_id, redirect_uri, scope, code_challenge, code_challenge_method, nonce, state, expires_at, used_at, refresh_family_id, created_at
		FROM authorization_codes WHERE code = $1`
	var c AuthorizationCode
	err := q.db.QueryRow(ctx, query, code).Scan(
		&c.Code, &c.ClientID, &c.UserID, &c.TenantID, &c.RedirectURI, &c.Scope, &c.CodeChallenge, &c.CodeChallengeMethod,
		&c.Nonce, &c.State, &c.ExpiresAt, &c.UsedAt, &c.RefreshFamilyID, &c.CreatedAt)
	return c, err
}

// LinkAuthorizationCodeFamily records which refresh-token family a consumed
// code produced, so a later replay of the code can revoke every descendant.
func (q *Queries) LinkAuthorizationCodeFamily(ctx context.Context, code string, familyID uuid.UUID) error {
	const query = `UPDATE authorization_codes SET refresh_family_id = $2 WHERE code = $1`
	_, err := q.db.Exec(ctx, query, code, familyID)
	return err
}

// CleanExpiredAuthorizationCodes removes codes past the replay-detection
// retention window.
func (q *Queries) CleanExpiredAuthorizationCodes(ctx context.Context) (int64, error) {
	const query = `DELETE FROM authorization_codes WHERE expires_at < now() - interval '1 day'`
	tag, err := q.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
