// Package lockout enforces per-account brute-force protection on top of
// durable rows: every attempt lands in login_attempts, crossing the failure
// threshold creates an account_lockouts row with a locked_until horizon,
// and user_bans is an administrative block checked on every login. Because
// the state lives in the database, a lockout tripped on one API replica
// holds on all of them and survives restarts — an attacker rotating source
// addresses or replicas still runs into the same counter.
package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/store"
)

const lockoutReason = "too_many_failed_attempts"

// Store is the persistence surface the tracker writes through; implemented
// by internal/store.Queries.
type Store interface {
	RecordLoginAttempt(ctx context.Context, p store.CreateLoginAttemptParams) error
	CountRecentFailedLogins(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	GetActiveLockout(ctx context.Context, userID uuid.UUID) (store.AccountLockout, error)
	CreateAccountLockout(ctx context.Context, userID uuid.UUID, reason string, lockedUntil time.Time) (store.AccountLockout, error)
	ReleaseLockouts(ctx context.Context, userID uuid.UUID) error
	GetActiveBan(ctx context.Context, userID uuid.UUID) (store.UserBan, error)
}

// Tracker records attempts and answers "is this account currently blocked".
type Tracker struct {
	db        Store
	threshold int
	duration  time.Duration
}

// New builds a Tracker. threshold failures inside a rolling window of
// duration trigger a lockout lasting duration; both come from the
// install-wide lockout config.
func New(db Store, threshold int, duration time.Duration) *Tracker {
	return &Tracker{db: db, threshold: threshold, duration: duration}
}

// Locked reports whether userID is banned or inside a lockout window, and
// the time remaining. A ban with no expiry reports zero remaining: there is
// no point at which retrying will succeed.
func (t *Tracker) Locked(ctx context.Context, userID uuid.UUID) (locked bool, remaining time.Duration) {
	if ban, err := t.db.GetActiveBan(ctx, userID); err == nil {
		if ban.ExpiresAt == nil {
			return true, 0
		}
		return true, time.Until(*ban.ExpiresAt)
	}
	if lo, err := t.db.GetActiveLockout(ctx, userID); err == nil {
		return true, time.Until(lo.LockedUntil)
	}
	return false, 0
}

// RecordFailure journals a failed attempt and, when the rolling window
// crosses the threshold, creates the lockout row every replica will honor.
func (t *Tracker) RecordFailure(ctx context.Context, userID uuid.UUID, email, ip, userAgent string) error {
	reason := "invalid_credentials"
	if err := t.db.RecordLoginAttempt(ctx, store.CreateLoginAttemptParams{
		UserID: &userID, Email: email, Success: false, FailureReason: &reason, IP: ip, UserAgent: userAgent,
	}); err != nil {
		return fmt.Errorf("lockout: recording attempt: %w", err)
	}

	since := time.Now().Add(-t.duration)
	n, err := t.db.CountRecentFailedLogins(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("lockout: counting failures: %w", err)
	}
	if n < t.threshold {
		return nil
	}
	// Crossing the threshold repeatedly while already locked just extends
	// the horizon; GetActiveLockout picks the furthest one.
	if _, err := t.db.CreateAccountLockout(ctx, userID, lockoutReason, time.Now().Add(t.duration)); err != nil {
		return fmt.Errorf("lockout: creating lockout: %w", err)
	}
	return nil
}

// RecordSuccess journals a successful attempt (which resets the rolling
// failure window) and releases any active lockout.
func (t *Tracker) RecordSuccess(ctx context.Context, userID uuid.UUID, email, ip, userAgent string) error {
	if err := t.db.RecordLoginAttempt(ctx, store.CreateLoginAttemptParams{
		UserID: &userID, Email: email, Success: true, IP: ip, UserAgent: userAgent,
	}); err != nil {
		return fmt.Errorf("lockout: recording attempt: %w", err)
	}
	if err := t.db.ReleaseLockouts(ctx, userID); err != nil {
		return fmt.Errorf("lockout: releasing lockouts: %w", err)
	}
	return nil
}

// ErrLocked is returned by internal/authn when a login attempt hits an
// active lockout or ban. A zero RetryAfter means the block has no expiry.
type ErrLocked struct {
	RetryAfter time.Duration
}

func (e *ErrLocked) Error() string {
	if e.RetryAfter <= 0 {
		return "lockout: account blocked"
	}
	return fmt.Sprintf("lockout: account locked, retry after %s", e.RetryAfter)
}
