package store

import (
	"context"

	"github.com/google/uuid"
)

type CreateUserParams struct {
	ID              uuid.UUID
	Email           string
	PasswordHash    *string
	FullName        *string
	DefaultTenantID *uuid.UUID
}

func (q *Queries) CreateUser(ctx context.Context, p CreateUserParams) (User, error) {
	const query = `
		INSERT INTO users (id, email, password_hash, full_name, default_tenant_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, email, email_verified, phone, phone_verified, password_hash, is_active, is_platform_admin, mfa_enabled, default_tenant_id, full_name, created_at, updated_at`
	var u User
	err := q.db.QueryRow(ctx, query, p.ID, p.Email, p.PasswordHash, p.FullName, p.DefaultTenantID).
		Scan(&u.ID, &u.Email, &u.EmailVerified, &u.Phone, &u.PhoneVerified, &u.PasswordHash, &u.IsActive, &u.IsPlatformAdmin, &u.MFAEnabled, &u.DefaultTenantID, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	const query = `
		SELECT id, email, email_verified, phone, phone_verified, password_hash, is_active, is_platform_admin, mfa_enabled, default_tenant_id, full_name, created_at, updated_at
		FROM users WHERE id = $1`
	var u User
	err := q.db.QueryRow(ctx, query, id).
		Scan(&u.ID, &u.Email, &u.EmailVerified, &u.Phone, &u.PhoneVerified, &u.PasswordHash, &u.IsActive, &u.IsPlatformAdmin, &u.MFAEnabled, &u.DefaultTenantID, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetUserByEmail expects email already normalized (lowercase, NFC) by the
// caller — see internal/identity.NormalizeEmail.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `
		SELECT id, email, email_verified, phone, phone_verified, password_hash, is_active, is_platform_admin, mfa_enabled, default_tenant_id, full_name, created_at, updated_at
		FROM users WHERE email = $1`
	var u User
	err := q.db.QueryRow(ctx, query, email).
		Scan(&u.ID, &u.Email, &u.EmailVerified, &u.Phone, &u.PhoneVerified, &u.PasswordHash, &u.IsActive, &u.IsPlatformAdmin, &u.MFAEnabled, &u.DefaultTenantID, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (q *Queries) UpdateUserPassword(ctx context.Context, id uuid.UUID, hash string) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, hash)
	return err
}

func (q *Queries) UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error {
	const query = `UPDATE users SET email = $2, email_verified = true, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, email)
	return err
}

func (q *Queries) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE users SET email_verified = true, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

func (q *Queries) UpdateUserProfile(ctx context.Context, id uuid.UUID, fullName *string) error {
	const query = `UPDATE users SET full_name = $2, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, fullName)
	return err
}

func (q *Queries) SetUserMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	const query = `UPDATE users SET mfa_enabled = $2, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, enabled)
	return err
}

func (q *Queries) SetDefaultTenant(ctx context.Context, id uuid.UUID, tenantID *uuid.UUID) error {
	const query = `UPDATE users SET default_tenant_id = $2, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, tenantID)
	return err
}

// EmailChangeRequest backs internal/authn's secondary email-change flow.
type EmailChangeRequest struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	NewEmail  string
	TokenHash string
	UsedAt    *bool
}

func (q *Queries) CreateEmailChangeRequest(ctx context.Context, userID uuid.UUID, newEmail, tokenHash string) error {
	const query = `
		INSERT INTO email_change_requests (user_id, new_email, token_hash, expires_at)
		VALUES ($1, $2, $3, now() + interval '1 hour')`
	_, err := q.db.Exec(ctx, query, userID, newEmail, tokenHash)
	return err
}

func (q *Queries) GetEmailChangeRequest(ctx context.Context, tokenHash string) (uuid.UUID, string, error) {
	const query = `
		SELECT user_id, new_email FROM email_change_requests
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > now()`
	var userID uuid.UUID
	var newEmail string
	err := q.db.QueryRow(ctx, query, tokenHash).Scan(&userID, &newEmail)
	return userID, newEmail, err
}

func (q *Queries) MarkEmailChangeRequestUsed(ctx context.Context, tokenHash string) (bool, error) {
	const query = `UPDATE email_change_requests SET used_at = now() WHERE token_hash = $1 AND used_at IS NULL`
	tag, err := q.db.Exec(ctx, query, tokenHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
