package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/ciam/internal/session"
	"github.com/lavente-care/ciam/internal/store"
	"github.com/lavente-care/ciam/internal/tokencodec"
)

// fakeStore is an in-memory stand-in for internal/store, enough to drive
// the rotation state machine without a database.
type fakeStore struct {
	mu     sync.Mutex
	tokens map[string]store.RefreshToken // keyed by token hash
	byID   map[uuid.UUID]string          // id -> hash, for lookups by id
}

func newFakeStore() *fakeStore {
	return &fakeStore{tokens: make(map[string]store.RefreshToken), byID: make(map[uuid.UUID]string)}
}

func (f *fakeStore) GetRefreshTokenByHash(ctx context.Context, hash string) (store.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[hash]
	if !ok {
		return store.RefreshToken{}, errNotFound
	}
	return t, nil
}

func (f *fakeStore) CreateRefreshToken(ctx context.Context, p store.CreateRefreshTokenParams) (store.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := store.RefreshToken{
		ID: p.ID, TokenHash: p.TokenHash, ClientID: p.ClientID, UserID: p.UserID, TenantID: p.TenantID,
		FamilyID: p.FamilyID, Scope: p.Scope, SessionID: p.SessionID, IPAddress: p.IPAddress,
		UserAgent: p.UserAgent, ExpiresAt: p.ExpiresAt,
	}
	f.tokens[p.TokenHash] = t
	f.byID[p.ID] = p.TokenHash
	return t, nil
}

func (f *fakeStore) MarkRefreshTokenReplaced(ctx context.Context, id, replacedBy uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := f.byID[id]
	t := f.tokens[hash]
	t.ReplacedBy = &replacedBy
	f.tokens[hash] = t
	return nil
}

func (f *fakeStore) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := f.byID[id]
	t := f.tokens[hash]
	now := time.Now()
	t.RevokedAt = &now
	f.tokens[hash] = t
	return nil
}

func (f *fakeStore) RevokeRefreshTokenFamily(ctx context.Context, familyID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now()
	for hash, t := range f.tokens {
		if t.FamilyID == familyID && t.RevokedAt == nil {
			t.RevokedAt = &now
			f.tokens[hash] = t
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	return nil
}
func (f *fakeStore) RevokeRefreshTokensForSession(ctx context.Context, sessionID uuid.UUID) error {
	return nil
}
func (f *fakeStore) CreateLoginSession(ctx context.Context, p store.CreateLoginSessionParams) (store.LoginSession, error) {
	return store.LoginSession{}, nil
}
func (f *fakeStore) GetLoginSessionByID(ctx context.Context, id uuid.UUID) (store.LoginSession, error) {
	return store.LoginSession{}, nil
}
func (f *fakeStore) TouchLoginSession(ctx context.Context, id uuid.UUID, idleExpiresAt time.Time) error {
	return nil
}
func (f *fakeStore) RevokeLoginSession(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeStore) RevokeAllLoginSessionsForUser(ctx context.Context, userID uuid.UUID) error {
	return nil
}
func (f *fakeStore) ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]store.LoginSession, error) {
	return nil, nil
}

var errNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "not found" }

func seedFamily(t *testing.T, fs *fakeStore) (raw string, userID uuid.UUID) {
	t.Helper()
	userID = uuid.New()
	raw, hash, err := tokencodec.GenerateOpaqueRefreshToken()
	require.NoError(t, err)
	expires := time.Now().Add(time.Hour)
	_, err = fs.CreateRefreshToken(context.Background(), store.CreateRefreshTokenParams{
		ID: uuid.New(), TokenHash: hash, ClientID: "client-1", UserID: userID,
		FamilyID: uuid.New(), Scope: "openid", ExpiresAt: &expires,
	})
	require.NoError(t, err)
	return raw, userID
}

func TestRotate_ReusedTokenRevokesFamily(t *testing.T) {
	fs := newFakeStore()
	svc := session.New(fs, 24*time.Hour, time.Hour)
	raw, _ := seedFamily(t, fs)
	ctx := context.Background()

	newRaw, _, err := svc.Rotate(ctx, raw, "127.0.0.1", "ua", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, newRaw)

	// Back-date the revoked_at on the original token, simulating time
	// passing between the first rotation and the reuse.
	fs.mu.Lock()
	origHash := tokencodec.HashRefreshToken(raw)
	orig := fs.tokens[origHash]
	past := time.Now().Add(-time.Minute)
	orig.RevokedAt = &past
	fs.tokens[origHash] = orig
	fs.mu.Unlock()

	_, _, err = svc.Rotate(ctx, raw, "127.0.0.1", "ua", time.Hour)
	require.ErrorIs(t, err, session.ErrReuseDetected)

	// The entire family, including the live successor, must now be revoked.
	fs.mu.Lock()
	successor := fs.tokens[tokencodec.HashRefreshToken(newRaw)]
	fs.mu.Unlock()
	require.NotNil(t, successor.RevokedAt, "rotated successor must be revoked when its family is burned")
}

func TestRotate_ConcurrentRacerIsTreatedAsReuse(t *testing.T) {
	fs := newFakeStore()
	svc := session.New(fs, 24*time.Hour, time.Hour)
	raw, _ := seedFamily(t, fs)
	ctx := context.Background()

	newRaw, _, err := svc.Rotate(ctx, raw, "127.0.0.1", "ua", time.Hour)
	require.NoError(t, err)

	// Re-presenting the same (now just-revoked) token immediately — as two
	// browser tabs racing to refresh would — must revoke the whole family:
	// the other observes reuse and revokes the family. There is no
	// grace-period exception.
	_, _, err = svc.Rotate(ctx, raw, "127.0.0.1", "ua", time.Hour)
	require.ErrorIs(t, err, session.ErrReuseDetected)

	fs.mu.Lock()
	successor := fs.tokens[tokencodec.HashRefreshToken(newRaw)]
	fs.mu.Unlock()
	require.NotNil(t, successor.RevokedAt, "the racer's own successor must be revoked too")
}

func TestRotate_UnknownTokenIsNotFound(t *testing.T) {
	fs := newFakeStore()
	svc := session.New(fs, 24*time.Hour, time.Hour)
	ctx := context.Background()

	_, _, err := svc.Rotate(ctx, "does-not-exist", "127.0.0.1", "ua", time.Hour)
	require.ErrorIs(t, err, session.ErrRefreshNotFound)
}
