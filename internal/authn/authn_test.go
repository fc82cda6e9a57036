package authn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/authn"
	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/identity"
	"github.com/lavente-care/ciam/internal/lockout"
	"github.com/lavente-care/ciam/internal/passwordhash"
	"github.com/lavente-care/ciam/internal/store"
)

var errNotFound = errors.New("not found")

// fakeStore stubs authn.Store and lockout.Store; the login paths touch
// users, memberships, and the attempt/lockout/ban journal.
type fakeStore struct {
	users       map[string]store.User        // keyed by normalized email
	memberships map[uuid.UUID][]uuid.UUID    // user id -> tenant ids
	attempts    []store.LoginAttempt
	lockouts    []store.AccountLockout
	bans        []store.UserBan
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		memberships: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakeStore) RecordLoginAttempt(_ context.Context, p store.CreateLoginAttemptParams) error {
	f.attempts = append(f.attempts, store.LoginAttempt{
		ID: uuid.New(), UserID: p.UserID, Email: p.Email, Success: p.Success,
		FailureReason: p.FailureReason, IP: p.IP, UserAgent: p.UserAgent, CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeStore) CountRecentFailedLogins(_ context.Context, userID uuid.UUID, since time.Time) (int, error) {
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
	for _, l := range f.lockouts {
		if l.UserID == userID && l.ReleasedAt == nil && l.LockedUntil.After(time.Now()) {
			return l, nil
		}
	}
	return store.AccountLockout{}, errNotFound
}

func (f *fakeStore) CreateAccountLockout(_ context.Context, userID uuid.UUID, reason string, lockedUntil time.Time) (store.AccountLockout, error) {
	l := store.AccountLockout{ID: uuid.New(), UserID: userID, Reason: reason, LockedUntil: lockedUntil, CreatedAt: time.Now()}
	f.lockouts = append(f.lockouts, l)
	return l, nil
}

func (f *fakeStore) ReleaseLockouts(_ context.Context, userID uuid.UUID) error {
	now := time.Now()
	for i := range f.lockouts {
		if f.lockouts[i].UserID == userID && f.lockouts[i].ReleasedAt == nil {
			f.lockouts[i].ReleasedAt = &now
		}
	}
	return nil
}

func (f *fakeStore) GetActiveBan(_ context.Context, userID uuid.UUID) (store.UserBan, error) {
	for _, b := range f.bans {
		if b.UserID == userID && b.RevokedAt == nil && (b.ExpiresAt == nil || b.ExpiresAt.After(time.Now())) {
			return b, nil
		}
	}
	return store.UserBan{}, errNotFound
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	u, ok := f.users[email]
	if !ok {
		return store.User{}, errNotFound
	}
	return u, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id uuid.UUID) (store.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return store.User{}, errNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, p store.CreateUserParams) (store.User, error) {
	u := store.User{ID: p.ID, Email: p.Email, PasswordHash: p.PasswordHash, FullName: p.FullName, IsActive: true}
	f.users[p.Email] = u
	return u, nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, id uuid.UUID, hash string) error {
	for email, u := range f.users {
		if u.ID == id {
			u.PasswordHash = &hash
			f.users[email] = u
		}
	}
	return nil
}

func (f *fakeStore) UpdateUserEmail(context.Context, uuid.UUID, string) error { return nil }
func (f *fakeStore) MarkEmailVerified(context.Context, uuid.UUID) error       { return nil }
func (f *fakeStore) UpdateUserProfile(context.Context, uuid.UUID, *string) error {
	return nil
}
func (f *fakeStore) SetUserMFAEnabled(context.Context, uuid.UUID, bool) error { return nil }
func (f *fakeStore) SetDefaultTenant(context.Context, uuid.UUID, *uuid.UUID) error {
	return nil
}

func (f *fakeStore) CreateEmailChangeRequest(context.Context, uuid.UUID, string, string) error {
	return nil
}
func (f *fakeStore) GetEmailChangeRequest(context.Context, string) (uuid.UUID, string, error) {
	return uuid.Nil, "", errNotFound
}
func (f *fakeStore) MarkEmailChangeRequestUsed(context.Context, string) (bool, error) {
	return false, errNotFound
}

func (f *fakeStore) CreateVerificationToken(_ context.Context, id, userID uuid.UUID, tokenHash string, kind store.VerificationTokenType, expiresAt time.Time) (store.VerificationToken, error) {
	return store.VerificationToken{ID: id, UserID: userID, TokenHash: tokenHash, Kind: kind, ExpiresAt: expiresAt}, nil
}
func (f *fakeStore) ConsumeVerificationToken(context.Context, string, store.VerificationTokenType) (store.VerificationToken, error) {
	return store.VerificationToken{}, errNotFound
}
func (f *fakeStore) DeleteVerificationTokensForUser(context.Context, uuid.UUID, store.VerificationTokenType) error {
	return nil
}

func (f *fakeStore) CreateMembership(_ context.Context, userID, tenantID uuid.UUID, role string) (store.TenantMember, error) {
	return store.TenantMember{UserID: userID, TenantID: tenantID, Role: role}, nil
}
func (f *fakeStore) GetMembership(_ context.Context, userID, tenantID uuid.UUID) (store.TenantMember, error) {
	for _, tid := range f.memberships[userID] {
		if tid == tenantID {
			return store.TenantMember{UserID: userID, TenantID: tenantID, Role: "member"}, nil
		}
	}
	return store.TenantMember{}, errNotFound
}

func (f *fakeStore) CreateMfaMethod(context.Context, store.CreateMfaMethodParams) (store.MfaMethod, error) {
	return store.MfaMethod{}, nil
}
func (f *fakeStore) GetMfaMethod(context.Context, uuid.UUID) (store.MfaMethod, error) {
	return store.MfaMethod{}, errNotFound
}
func (f *fakeStore) ListMfaMethodsForUser(context.Context, uuid.UUID) ([]store.MfaMethod, error) {
	return nil, nil
}
func (f *fakeStore) ActivateMfaMethod(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) DeleteMfaMethod(context.Context, uuid.UUID) error   { return nil }

func (f *fakeStore) CreateMfaChallenge(context.Context, store.CreateMfaChallengeParams) (store.MfaChallenge, error) {
	return store.MfaChallenge{}, nil
}
func (f *fakeStore) GetMfaChallenge(context.Context, string) (store.MfaChallenge, error) {
	return store.MfaChallenge{}, errNotFound
}
func (f *fakeStore) IncrementMfaChallengeAttempts(context.Context, uuid.UUID) (int, error) {
	return 0, nil
}
func (f *fakeStore) MarkMfaChallengeVerified(context.Context, uuid.UUID) error { return nil }

func (f *fakeStore) CreateInvitation(context.Context, uuid.UUID, string, uuid.UUID, string, string, time.Time) (store.Invitation, error) {
	return store.Invitation{}, nil
}
func (f *fakeStore) GetInvitationByTokenHash(context.Context, string) (store.Invitation, error) {
	return store.Invitation{}, errNotFound
}
func (f *fakeStore) MarkInvitationAccepted(context.Context, uuid.UUID) (bool, error) {
	return false, errNotFound
}

func (f *fakeStore) LinkUserIdentity(context.Context, uuid.UUID, uuid.UUID, string) error {
	return nil
}
func (f *fakeStore) FindUserByIdentity(context.Context, uuid.UUID, string) (uuid.UUID, error) {
	return uuid.Nil, errNotFound
}

// stubIdentityStore backs an identity.Repository with just enough tenant
// state for the hierarchical-login tests.
type stubIdentityStore struct {
	tenants map[string]store.Tenant // keyed by slug
}

func (s *stubIdentityStore) InsertTenant(_ context.Context, p store.InsertTenantParams) (store.Tenant, error) {
	t := store.Tenant{ID: p.ID, Slug: p.Slug, Name: p.Name, AccountType: p.AccountType, IsolationMode: p.IsolationMode,
		ParentID: p.ParentID, HierarchyLevel: p.HierarchyLevel, HierarchyPath: p.HierarchyPath}
	s.tenants[p.Slug] = t
	return t, nil
}

func (s *stubIdentityStore) GetTenantByID(_ context.Context, id uuid.UUID) (store.Tenant, error) {
	for _, t := range s.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return store.Tenant{}, errNotFound
}

func (s *stubIdentityStore) GetTenantBySlug(_ context.Context, slug string) (store.Tenant, error) {
	t, ok := s.tenants[slug]
	if !ok {
		return store.Tenant{}, errNotFound
	}
	return t, nil
}

func (s *stubIdentityStore) ListChildTenants(context.Context, uuid.UUID) ([]store.Tenant, error) {
	return nil, nil
}
func (s *stubIdentityStore) CountNonTerminalChildren(context.Context, uuid.UUID) (int, error) {
	return 0, nil
}
func (s *stubIdentityStore) DeleteTenantCascade(context.Context, uuid.UUID) error { return nil }

func (s *stubIdentityStore) CreateApplication(context.Context, store.CreateApplicationParams) (store.Application, error) {
	return store.Application{}, nil
}
func (s *stubIdentityStore) GetApplicationByClientID(context.Context, string) (store.Application, error) {
	return store.Application{}, errNotFound
}
func (s *stubIdentityStore) GetApplicationBySlug(context.Context, *uuid.UUID, string) (store.Application, error) {
	return store.Application{}, errNotFound
}
func (s *stubIdentityStore) GetApplicationByID(context.Context, uuid.UUID) (store.Application, error) {
	return store.Application{}, errNotFound
}
func (s *stubIdentityStore) ListApplicationsForTenant(context.Context, *uuid.UUID) ([]store.Application, error) {
	return nil, nil
}
func (s *stubIdentityStore) RotateClientSecret(context.Context, uuid.UUID, string) error {
	return nil
}
func (s *stubIdentityStore) SetApplicationEnabled(context.Context, uuid.UUID, bool) error {
	return nil
}
func (s *stubIdentityStore) CreateConnection(context.Context, store.CreateConnectionParams) (store.Connection, error) {
	return store.Connection{}, nil
}
func (s *stubIdentityStore) ListConnectionsForTenant(context.Context, uuid.UUID) ([]store.Connection, error) {
	return nil, nil
}
func (s *stubIdentityStore) SetConnectionEnabled(context.Context, uuid.UUID, bool) error {
	return nil
}

type stubHasher struct{}

func (stubHasher) Hash(plaintext string) (string, error) { return "hashed:" + plaintext, nil }

var testHashParams = passwordhash.Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func testConfig() config.Config {
	return config.Config{
		PasswordPolicy: config.PasswordPolicy{
			MinLength: 8, RequireUpper: true, RequireLower: true, RequireNumber: true, RequireSpecial: true,
		},
		AllowPublicRegistration: true,
		AccessTokenTTLDefault:   time.Hour,
		RefreshTokenTTLDefault:  30 * 24 * time.Hour,
		LockoutThreshold:        3,
		LockoutDuration:         time.Minute,
	}
}

func newService(t *testing.T, fs *fakeStore) (*authn.Service, *lockout.Tracker) {
	svc, lockouts, _ := newServiceWithTenants(t, fs)
	return svc, lockouts
}

func newServiceWithTenants(t *testing.T, fs *fakeStore) (*authn.Service, *lockout.Tracker, *identity.Repository) {
	t.Helper()
	cfg := testConfig()
	lockouts := lockout.New(fs, cfg.LockoutThreshold, cfg.LockoutDuration)
	tenants := identity.New(&stubIdentityStore{tenants: make(map[string]store.Tenant)}, stubHasher{})
	svc := authn.New(authn.Deps{
		DB:       fs,
		Tenants:  tenants,
		Hasher:   passwordhash.New(testHashParams),
		Lockouts: lockouts,
		Audit:    audit.NoopLogger{},
		Config:   cfg,
	})
	return svc, lockouts, tenants
}

func seedUser(t *testing.T, fs *fakeStore, email, password string) store.User {
	t.Helper()
	hash, err := passwordhash.New(testHashParams).Hash(password)
	require.NoError(t, err)
	u := store.User{ID: uuid.New(), Email: email, PasswordHash: &hash, IsActive: true}
	fs.users[email] = u
	return u
}

func TestLogin_UnknownUserGetsGenericError(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newService(t, fs)

	_, err := svc.Login(context.Background(), "ghost@acme.test", "whatever", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, authn.ErrInvalidCredentials)
}

func TestLogin_WrongPasswordGetsSameGenericError(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "john@acme.test", "UserPass456!")
	svc, _ := newService(t, fs)

	_, err := svc.Login(context.Background(), "john@acme.test", "WrongPass!", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, authn.ErrInvalidCredentials)
}

func TestLogin_RepeatedFailuresLockTheAccount(t *testing.T) {
	fs := newFakeStore()
	user := seedUser(t, fs, "john@acme.test", "UserPass456!")
	svc, lockouts := newService(t, fs)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, "john@acme.test", "WrongPass!", "1.2.3.4", "ua")
		require.ErrorIs(t, err, authn.ErrInvalidCredentials)
	}

	locked, _ := lockouts.Locked(ctx, user.ID)
	require.True(t, locked)

	// Even the correct password is refused during the lockout window, with
	// a retry hint rather than a credential error.
	_, err := svc.Login(ctx, "john@acme.test", "UserPass456!", "1.2.3.4", "ua")
	var lockedErr *lockout.ErrLocked
	require.ErrorAs(t, err, &lockedErr)
	assert.Greater(t, lockedErr.RetryAfter, time.Duration(0))
}

func TestLogin_BannedAccountRefused(t *testing.T) {
	fs := newFakeStore()
	user := seedUser(t, fs, "john@acme.test", "UserPass456!")
	fs.bans = append(fs.bans, store.UserBan{ID: uuid.New(), UserID: user.ID})
	svc, _ := newService(t, fs)

	// Even the correct password is refused while a ban is active; a
	// permanent ban reports no retry horizon.
	_, err := svc.Login(context.Background(), "john@acme.test", "UserPass456!", "1.2.3.4", "ua")
	var lockedErr *lockout.ErrLocked
	require.ErrorAs(t, err, &lockedErr)
	assert.Equal(t, time.Duration(0), lockedErr.RetryAfter)
}

func TestLogin_DisabledAccountRefused(t *testing.T) {
	fs := newFakeStore()
	u := seedUser(t, fs, "john@acme.test", "UserPass456!")
	u.IsActive = false
	fs.users["john@acme.test"] = u
	svc, _ := newService(t, fs)

	_, err := svc.Login(context.Background(), "john@acme.test", "UserPass456!", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, authn.ErrAccountDisabled)
}

func TestLogin_FederatedOnlyAccountHasNoPasswordPath(t *testing.T) {
	fs := newFakeStore()
	u := store.User{ID: uuid.New(), Email: "sso-only@acme.test", IsActive: true}
	fs.users["sso-only@acme.test"] = u
	svc, _ := newService(t, fs)

	_, err := svc.Login(context.Background(), "sso-only@acme.test", "anything", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, authn.ErrInvalidCredentials)
}

func TestLogin_EmailIsNormalizedBeforeLookup(t *testing.T) {
	fs := newFakeStore()
	user := seedUser(t, fs, "john@acme.test", "UserPass456!")
	svc, lockouts := newService(t, fs)
	ctx := context.Background()

	// Failed attempts under a mixed-case spelling must land on the seeded
	// row: only a known user's lockout counter advances.
	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, "  John@ACME.test ", "WrongPass!", "1.2.3.4", "ua")
		require.ErrorIs(t, err, authn.ErrInvalidCredentials)
	}
	locked, _ := lockouts.Locked(ctx, user.ID)
	assert.True(t, locked)
}

func TestLoginToTenant_NonMemberGetsIndistinguishableFailure(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "john@acme.test", "UserPass456!")
	svc, _, tenants := newServiceWithTenants(t, fs)
	ctx := context.Background()

	_, err := tenants.CreateRootTenant(ctx, "imys", "Imys", store.AccountTypeBusiness, store.IsolationShared)
	require.NoError(t, err)

	// Valid credentials, but john is not a member of imys.
	_, err = svc.LoginToTenant(ctx, "imys", "john@acme.test", "UserPass456!", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, authn.ErrNotMember)

	// A slug that doesn't exist fails the same way.
	_, err = svc.LoginToTenant(ctx, "no-such-org", "john@acme.test", "UserPass456!", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, authn.ErrNotMember)
}

func TestLoginToTenant_WrongPasswordStillCredentialError(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "john@acme.test", "UserPass456!")
	svc, _, tenants := newServiceWithTenants(t, fs)
	ctx := context.Background()

	_, err := tenants.CreateRootTenant(ctx, "acme", "Acme", store.AccountTypeBusiness, store.IsolationShared)
	require.NoError(t, err)

	_, err = svc.LoginToTenant(ctx, "acme", "john@acme.test", "WrongPass!", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, authn.ErrInvalidCredentials)
}

func TestValidatePassword_Policy(t *testing.T) {
	policy := config.PasswordPolicy{MinLength: 8, RequireUpper: true, RequireLower: true, RequireNumber: true, RequireSpecial: true}

	cases := []struct {
		name     string
		password string
		ok       bool
	}{
		{"satisfies all", "UserPass456!", true},
		{"too short", "Up4!", false},
		{"no uppercase", "userpass456!", false},
		{"no lowercase", "USERPASS456!", false},
		{"no number", "UserPass!!!!", false},
		{"no special", "UserPass4567", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := authn.ValidatePassword(tc.password, policy)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, authn.ErrWeakPassword)
			}
		})
	}
}

func TestRegister_DuplicateEmailRejected(t *testing.T) {
	fs := newFakeStore()
	seedUser(t, fs, "john@acme.test", "UserPass456!")
	svc, _ := newService(t, fs)

	_, err := svc.Register(context.Background(), authn.RegisterInput{
		Email:    "John@ACME.test",
		Password: "OtherPass456!",
	})
	assert.ErrorIs(t, err, authn.ErrEmailTaken)
}

func TestRegister_WeakPasswordRejected(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newService(t, fs)

	_, err := svc.Register(context.Background(), authn.RegisterInput{
		Email:    "new@acme.test",
		Password: "short",
	})
	assert.ErrorIs(t, err, authn.ErrWeakPassword)
}
