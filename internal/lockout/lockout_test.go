package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/ciam/internal/store"
)

// fakeStore is an in-memory stand-in for the login_attempts /
// account_lockouts / user_bans tables.
type fakeStore struct {
	mu       sync.Mutex
	attempts []store.LoginAttempt
	lockouts []store.AccountLockout
	bans     []store.UserBan
}

var errNotFound = errors.New("not found")

func (f *fakeStore) RecordLoginAttempt(_ context.Context, p store.CreateLoginAttemptParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, store.LoginAttempt{
		ID: uuid.New(), UserID: p.UserID, Email: p.Email, Success: p.Success,
		FailureReason: p.FailureReason, IP: p.IP, UserAgent: p.UserAgent, CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeStore) CountRecentFailedLogins(_ context.Context, userID uuid.UUID, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lastSuccess time.Time
	for _, a := range f.attempts {
		if a.UserID != nil && *a.UserID == userID && a.Success && a.CreatedAt.After(lastSuccess) {
			lastSuccess = a.CreatedAt
		}
	}
	n := 0
	for _, a := range f.attempts {
		if a.UserID != nil && *a.UserID == userID && !a.Success && a.CreatedAt.After(since) && a.CreatedAt.After(lastSuccess) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetActiveLockout(_ context.Context, userID uuid.UUID) (store.AccountLockout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best store.AccountLockout
	found := false
	for _, l := range f.lockouts {
		if l.UserID == userID && l.ReleasedAt == nil && l.LockedUntil.After(time.Now()) {
			if !found || l.LockedUntil.After(best.LockedUntil) {
				best = l
				found = true
			}
		}
	}
	if !found {
		return store.AccountLockout{}, errNotFound
	}
	return best, nil
}

func (f *fakeStore) CreateAccountLockout(_ context.Context, userID uuid.UUID, reason string, lockedUntil time.Time) (store.AccountLockout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := store.AccountLockout{ID: uuid.New(), UserID: userID, Reason: reason, LockedUntil: lockedUntil, CreatedAt: time.Now()}
	f.lockouts = append(f.lockouts, l)
	return l, nil
}

func (f *fakeStore) ReleaseLockouts(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for i := range f.lockouts {
		if f.lockouts[i].UserID == userID && f.lockouts[i].ReleasedAt == nil {
			f.lockouts[i].ReleasedAt = &now
		}
	}
	return nil
}

func (f *fakeStore) GetActiveBan(_ context.Context, userID uuid.UUID) (store.UserBan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bans {
		if b.UserID == userID && b.RevokedAt == nil && (b.ExpiresAt == nil || b.ExpiresAt.After(time.Now())) {
			return b, nil
		}
	}
	return store.UserBan{}, errNotFound
}

func fail(t *testing.T, tr *Tracker, userID uuid.UUID) {
	t.Helper()
	require.NoError(t, tr.RecordFailure(context.Background(), userID, "john@acme.test", "1.2.3.4", "ua"))
}

func TestLocked_BelowThresholdStaysUnlocked(t *testing.T) {
	fs := &fakeStore{}
	tr := New(fs, 3, time.Minute)
	userID := uuid.New()

	fail(t, tr, userID)
	fail(t, tr, userID)

	locked, _ := tr.Locked(context.Background(), userID)
	assert.False(t, locked)
}

func TestLocked_ThresholdCreatesDurableLockout(t *testing.T) {
	fs := &fakeStore{}
	tr := New(fs, 3, time.Minute)
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		fail(t, tr, userID)
	}

	locked, remaining := tr.Locked(context.Background(), userID)
	assert.True(t, locked)
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, time.Minute)
	require.Len(t, fs.lockouts, 1, "the lockout must be a persisted row, not process memory")

	// A second tracker over the same store — another API replica — sees the
	// same lockout.
	other := New(fs, 3, time.Minute)
	locked, _ = other.Locked(context.Background(), userID)
	assert.True(t, locked)
}

func TestRecordSuccess_ResetsWindowAndReleasesLockouts(t *testing.T) {
	fs := &fakeStore{}
	tr := New(fs, 3, time.Minute)
	userID := uuid.New()
	ctx := context.Background()

	fail(t, tr, userID)
	fail(t, tr, userID)
	require.NoError(t, tr.RecordSuccess(ctx, userID, "john@acme.test", "1.2.3.4", "ua"))
	fail(t, tr, userID)
	fail(t, tr, userID)

	locked, _ := tr.Locked(ctx, userID)
	assert.False(t, locked, "a successful login must reset the rolling failure count")
}

func TestLocked_ExpiredLockoutClears(t *testing.T) {
	fs := &fakeStore{}
	tr := New(fs, 1, 10*time.Millisecond)
	userID := uuid.New()

	fail(t, tr, userID)
	locked, _ := tr.Locked(context.Background(), userID)
	assert.True(t, locked)

	time.Sleep(20 * time.Millisecond)
	locked, _ = tr.Locked(context.Background(), userID)
	assert.False(t, locked)
}

func TestLocked_ActiveBanBlocks(t *testing.T) {
	fs := &fakeStore{}
	tr := New(fs, 3, time.Minute)
	userID := uuid.New()

	expires := time.Now().Add(time.Hour)
	fs.bans = append(fs.bans, store.UserBan{ID: uuid.New(), UserID: userID, ExpiresAt: &expires})

	locked, remaining := tr.Locked(context.Background(), userID)
	assert.True(t, locked)
	assert.Greater(t, remaining, time.Duration(0))
}

func TestLocked_PermanentBanReportsNoRetry(t *testing.T) {
	fs := &fakeStore{}
	tr := New(fs, 3, time.Minute)
	userID := uuid.New()

	fs.bans = append(fs.bans, store.UserBan{ID: uuid.New(), UserID: userID})

	locked, remaining := tr.Locked(context.Background(), userID)
	assert.True(t, locked)
	assert.Equal(t, time.Duration(0), remaining)
}

func TestLocked_IsolatedPerUser(t *testing.T) {
	fs := &fakeStore{}
	tr := New(fs, 1, time.Minute)
	lockedUser := uuid.New()
	other := uuid.New()

	fail(t, tr, lockedUser)

	locked, _ := tr.Locked(context.Background(), lockedUser)
	assert.True(t, locked)
	locked, _ = tr.Locked(context.Background(), other)
	assert.False(t, locked)
}
