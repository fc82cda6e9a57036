package store

import (
	"context"

	"github.com/google/uuid"
)

// consents.go backs the consent step of the authorization endpoint:
// non-first-party clients need an unrevoked row here covering the requested
// scope set before a code is issued for them.

// GetConsent returns the active consent a user granted to a client, if any.
func (q *Queries) GetConsent(ctx context.Context, userID uuid.UUID, clientID string) (OAuthConsent, error) {
	const query = `
		SELECT id, user_id, client_id, scope, granted_at, revoked_at
		FROM oauth_consents
		WHERE user_id = $1 AND client_id = $2 AND revoked_at IS NULL`
	var c OAuthConsent
	err := q.db.QueryRow(ctx, query, userID, clientID).
		Scan(&c.ID, &c.UserID, &c.ClientID, &c.Scope, &c.GrantedAt, &c.RevokedAt)
	return c, err
}

// GrantConsent records (or widens) a user's consent for a client. Re-granting
// replaces the stored scope set and clears any prior revocation.
func (q *Queries) GrantConsent(ctx context.Context, userID uuid.UUID, clientID, scope string) (OAuthConsent, error) {
	const query = `
		INSERT INTO oauth_consents (id, user_id, client_id, scope)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, client_id)
		DO UPDATE SET scope = EXCLUDED.scope, granted_at = now(), revoked_at = NULL
		RETURNING id, user_id, client_id, scope, granted_at, revoked_at`
	var c OAuthConsent
	err := q.db.QueryRow(ctx, query, uuid.New(), userID, clientID, scope).
		Scan(&c.ID, &c.UserID, &c.ClientID, &c.Scope, &c.GrantedAt, &c.RevokedAt)
	return c, err
}

// RevokeConsent withdraws a user's consent for a client. Codes and tokens
// already issued are unaffected; the next authorization request re-prompts.
func (q *Queries) RevokeConsent(ctx context.Context, userID uuid.UUID, clientID string) error {
	const query = `
		UPDATE oauth_consents SET revoked_at = now()
		WHERE user_id = $1 AND client_id = $2 AND revoked_at IS NULL`
	_, err := q.db.Exec(ctx, query, userID, clientID)
	return err
}
