package store

import (
	"context"
	"time"
)

// keys.go backs internal/keymanager: durable signing-key rows with private
// material sealed at rest by internal/sealedbox's AES-256-GCM envelope.

func (q *Queries) InsertSigningKey(ctx context.Context, k SigningKey) error {
	const query = `
		INSERT INTO signing_keys (id, algorithm, public_key, private_key_sealed, is_current, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := q.db.Exec(ctx, query, k.ID, k.Algorithm, k.PublicKey, k.PrivateKeySealed, k.IsCurrent, k.ExpiresAt)
	return err
}

func (q *Queries) GetSigningKey(ctx context.Context, kid string) (SigningKey, error) {
	const query = `
		SELECT id, algorithm, public_key, private_key_sealed, is_current, created_at, rotated_at, expires_at
		FROM signing_keys WHERE id = $1`
	var k SigningKey
	err := q.db.QueryRow(ctx, query, kid).
		Scan(&k.ID, &k.Algorithm, &k.PublicKey, &k.PrivateKeySealed, &k.IsCurrent, &k.CreatedAt, &k.RotatedAt, &k.ExpiresAt)
	return k, err
}

// GetCurrentSigningKey returns the row with is_current = true. At most one
// such row can exist (unique partial index in migrations/0003); zero rows
// returns the driver's no-rows error, which internal/keymanager's Bootstrap
// answers by generating a first key.
func (q *Queries) GetCurrentSigningKey(ctx context.Context) (SigningKey, error) {
	const query = `
		SELECT id, algorithm, public_key, private_key_sealed, is_current, created_at, rotated_at, expires_at
		FROM signing_keys WHERE is_current = true`
	var k SigningKey
	err := q.db.QueryRow(ctx, query).
		Scan(&k.ID, &k.Algorithm, &k.PublicKey, &k.PrivateKeySealed, &k.IsCurrent, &k.CreatedAt, &k.RotatedAt, &k.ExpiresAt)
	return k, err
}

// ListVerifiableKeys returns the current key plus any predecessor still
// inside its grace window, for JWKS publication and token verification.
func (q *Queries) ListVerifiableKeys(ctx context.Context) ([]SigningKey, error) {
	const query = `
		SELECT id, algorithm, public_key, private_key_sealed, is_current, created_at, rotated_at, expires_at
		FROM signing_keys WHERE is_current = true OR expires_at > now()
		ORDER BY created_at DESC`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SigningKey
	for rows.Next() {
		var k SigningKey
		if err := rows.Scan(&k.ID, &k.Algorithm, &k.PublicKey, &k.PrivateKeySealed, &k.IsCurrent, &k.CreatedAt, &k.RotatedAt, &k.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// DemoteCurrentSigningKey demotes the current key, stamping rotated_at and
// expires_at for its grace window. It does not promote a successor; the new
// current key is written separately by InsertSigningKey.
func (q *Queries) DemoteCurrentSigningKey(ctx context.Context, graceExpiresAt time.Time) error {
	const query = `
		UPDATE signing_keys SET is_current = false, rotated_at = now(), expires_at = $1
		WHERE is_current = true`
	_, err := q.db.Exec(ctx, query, graceExpiresAt)
	return err
}
