package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// lockouts.go backs internal/lockout: the login_attempts journal, the
// account_lockouts rows the whole fleet honors, and administrative
// user_bans.

type CreateLoginAttemptParams struct {
	UserID        *uuid.UUID
	Email         string
	Success       bool
	FailureReason *string
	IP            string
	UserAgent     string
}

func (q *Queries) RecordLoginAttempt(ctx context.Context, p CreateLoginAttemptParams) error {
	const query = `
		INSERT INTO login_attempts (id, user_id, email, success, failure_reason, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := q.db.Exec(ctx, query, uuid.New(), p.UserID, p.Email, p.Success, p.FailureReason, p.IP, p.UserAgent)
	return err
}

// CountRecentFailedLogins counts failures inside the rolling window, reset
// by the user's most recent successful attempt so old failures don't haunt
// an account after a clean login.
func (q *Queries) CountRecentFailedLogins(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	const query = `
		SELECT count(*) FROM login_attempts
		WHERE user_id = $1 AND success = false AND created_at > $2
			AND created_at > COALESCE(
				(SELECT max(created_at) FROM login_attempts WHERE user_id = $1 AND success = true),
				'epoch'::timestamptz)`
	var n int
	err := q.db.QueryRow(ctx, query, userID, since).Scan(&n)
	return n, err
}

// GetActiveLockout returns the unexpired, unreleased lockout with the
// furthest horizon, if any.
func (q *Queries) GetActiveLockout(ctx context.Context, userID uuid.UUID) (AccountLockout, error) {
	const query = `
		SELECT id, user_id, reason, locked_until, released_at, created_at
		FROM account_lockouts
		WHERE user_id = $1 AND released_at IS NULL AND locked_until > now()
		ORDER BY locked_until DESC
		LIMIT 1`
	var l AccountLockout
	err := q.db.QueryRow(ctx, query, userID).
		Scan(&l.ID, &l.UserID, &l.Reason, &l.LockedUntil, &l.ReleasedAt, &l.CreatedAt)
	return l, err
}

func (q *Queries) CreateAccountLockout(ctx context.Context, userID uuid.UUID, reason string, lockedUntil time.Time) (AccountLockout, error) {
	const query = `
		INSERT INTO account_lockouts (id, user_id, reason, locked_until)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, reason, locked_until, released_at, created_at`
	var l AccountLockout
	err := q.db.QueryRow(ctx, query, uuid.New(), userID, reason, lockedUntil).
		Scan(&l.ID, &l.UserID, &l.Reason, &l.LockedUntil, &l.ReleasedAt, &l.CreatedAt)
	return l, err
}

// ReleaseLockouts ends every active lockout for a user, e.g. after a
// successful login or an administrative unlock.
func (q *Queries) ReleaseLockouts(ctx context.Context, userID uuid.UUID) error {
	const query = `
		UPDATE account_lockouts SET released_at = now()
		WHERE user_id = $1 AND released_at IS NULL AND locked_until > now()`
	_, err := q.db.Exec(ctx, query, userID)
	return err
}

// GetActiveBan returns the user's unrevoked, unexpired ban, if any.
func (q *Queries) GetActiveBan(ctx context.Context, userID uuid.UUID) (UserBan, error) {
	const query = `
		SELECT id, user_id, reason, banned_by, expires_at, revoked_at, created_at
		FROM user_bans
		WHERE user_id = $1 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at DESC
		LIMIT 1`
	var b UserBan
	err := q.db.QueryRow(ctx, query, userID).
		Scan(&b.ID, &b.UserID, &b.Reason, &b.BannedBy, &b.ExpiresAt, &b.RevokedAt, &b.CreatedAt)
	return b, err
}

func (q *Queries) CreateUserBan(ctx context.Context, userID uuid.UUID, reason string, bannedBy *uuid.UUID, expiresAt *time.Time) (UserBan, error) {
	const query = `
		INSERT INTO user_bans (id, user_id, reason, banned_by, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, reason, banned_by, expires_at, revoked_at, created_at`
	var b UserBan
	err := q.db.QueryRow(ctx, query, uuid.New(), userID, reason, bannedBy, expiresAt).
		Scan(&b.ID, &b.UserID, &b.Reason, &b.BannedBy, &b.ExpiresAt, &b.RevokedAt, &b.CreatedAt)
	return b, err
}

func (q *Queries) RevokeUserBans(ctx context.Context, userID uuid.UUID) error {
	const query = `UPDATE user_bans SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`
	_, err := q.db.Exec(ctx, query, userID)
	return err
}

// CleanOldLoginAttempts trims the attempt journal past its retention; run
// from cmd/worker's janitor loop.
func (q *Queries) CleanOldLoginAttempts(ctx context.Context) (int64, error) {
	const query = `DELETE FROM login_attempts WHERE created_at < now() - interval '90 days'`
	tag, err := q.db.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
