// Package authn is the authentication pipeline, binding
// internal/passwordhash, internal/mfa, internal/lockout, internal/session,
// and internal/tokencodec into the actual login/registration/recovery
// flows. Users live in a global pool; tenant membership is a separate
// relation resolved per login rather than baked into the user row.
package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/identity"
	"github.com/lavente-care/ciam/internal/lockout"
	"github.com/lavente-care/ciam/internal/mfa"
	"github.com/lavente-care/ciam/internal/notify"
	"github.com/lavente-care/ciam/internal/passwordhash"
	"github.com/lavente-care/ciam/internal/session"
	"github.com/lavente-care/ciam/internal/store"
	"github.com/lavente-care/ciam/internal/tokencodec"
)

// Errors returned to the HTTP layer; handlers map these onto the wire
// error envelope without leaking which step of the pipeline failed.
var (
	ErrInvalidCredentials = errors.New("authn: invalid email or password")
	ErrAccountLocked      = errors.New("authn: account temporarily locked")
	ErrAccountDisabled    = errors.New("authn: account disabled")
	ErrEmailTaken         = errors.New("authn: email already registered")
	ErrWeakPassword       = errors.New("authn: password does not meet policy")
	ErrMFARequired        = errors.New("authn: mfa verification required")
	ErrInvalidMFACode     = errors.New("authn: invalid mfa code")
	ErrTokenInvalid       = errors.New("authn: token invalid or expired")
	ErrRegistrationClosed = errors.New("authn: public registration disabled")
	// ErrNotMember covers tenant-scoped logins by users who exist but don't
	// belong to the named organization; the HTTP layer surfaces it exactly
	// like a credential failure.
	ErrNotMember = errors.New("authn: not a member of this organization")
)

// Store is the persistence surface authn depends on, narrowed to the
// methods each flow actually calls.
type Store interface {
	CreateUser(ctx context.Context, p store.CreateUserParams) (store.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, hash string) error
	UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	UpdateUserProfile(ctx context.Context, id uuid.UUID, fullName *string) error
	SetUserMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	SetDefaultTenant(ctx context.Context, id uuid.UUID, tenantID *uuid.UUID) error

	CreateEmailChangeRequest(ctx context.Context, userID uuid.UUID, newEmail, tokenHash string) error
	GetEmailChangeRequest(ctx context.Context, tokenHash string) (uuid.UUID, string, error)
	MarkEmailChangeRequestUsed(ctx context.Context, tokenHash string) (bool, error)

	CreateVerificationToken(ctx context.Context, id, userID uuid.UUID, tokenHash string, kind store.VerificationTokenType, expiresAt time.Time) (store.VerificationToken, error)
	ConsumeVerificationToken(ctx context.Context, tokenHash string, kind store.VerificationTokenType) (store.VerificationToken, error)
	DeleteVerificationTokensForUser(ctx context.Context, userID uuid.UUID, kind store.VerificationTokenType) error

	CreateMembership(ctx context.Context, userID, tenantID uuid.UUID, role string) (store.TenantMember, error)
	GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (store.TenantMember, error)

	CreateMfaMethod(ctx context.Context, p store.CreateMfaMethodParams) (store.MfaMethod, error)
	GetMfaMethod(ctx context.Context, id uuid.UUID) (store.MfaMethod, error)
	ListMfaMethodsForUser(ctx context.Context, userID uuid.UUID) ([]store.MfaMethod, error)
	ActivateMfaMethod(ctx context.Context, id uuid.UUID) error
	DeleteMfaMethod(ctx context.Context, id uuid.UUID) error

	CreateMfaChallenge(ctx context.Context, p store.CreateMfaChallengeParams) (store.MfaChallenge, error)
	GetMfaChallenge(ctx context.Context, challengeToken string) (store.MfaChallenge, error)
	IncrementMfaChallengeAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkMfaChallengeVerified(ctx context.Context, id uuid.UUID) error

	CreateInvitation(ctx context.Context, id uuid.UUID, email string, tenantID uuid.UUID, role, tokenHash string, expiresAt time.Time) (store.Invitation, error)
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (store.Invitation, error)
	MarkInvitationAccepted(ctx context.Context, id uuid.UUID) (bool, error)

	LinkUserIdentity(ctx context.Context, userID, connectionID uuid.UUID, subjectID string) error
	FindUserByIdentity(ctx context.Context, connectionID uuid.UUID, subjectID string) (uuid.UUID, error)
}

// Service is the entry point for every authentication flow.
type Service struct {
	db       Store
	tenants  *identity.Repository
	hasher   *passwordhash.Hasher
	mfaSvc   *mfa.Service
	lockouts *lockout.Tracker
	sessions *session.Service
	tokens   *tokencodec.Codec
	audit    audit.Logger
	mail     notify.EmailSender

	policy                  config.PasswordPolicy
	allowPublicRegistration bool
	appURL                  string

	accessTTL  time.Duration
	refreshTTL time.Duration
	idTTL      time.Duration

	emailVerifyTTL time.Duration
	resetTTL       time.Duration
	magicLinkTTL   time.Duration

	mfaChallengeTTL time.Duration
	mfaMaxAttempts  int
}

// Deps bundles Service's constructor arguments; authn composes the other
// service packages rather than reaching into internal/store directly for
// anything business-rule-shaped.
type Deps struct {
	DB       Store
	Tenants  *identity.Repository
	Hasher   *passwordhash.Hasher
	MFA      *mfa.Service
	Lockouts *lockout.Tracker
	Sessions *session.Service
	Tokens   *tokencodec.Codec
	Audit    audit.Logger
	Mail     notify.EmailSender
	Config   config.Config
}

func New(d Deps) *Service {
	return &Service{
		db:                      d.DB,
		tenants:                 d.Tenants,
		hasher:                  d.Hasher,
		mfaSvc:                  d.MFA,
		lockouts:                d.Lockouts,
		sessions:                d.Sessions,
		tokens:                  d.Tokens,
		audit:                   d.Audit,
		mail:                    d.Mail,
		policy:                  d.Config.PasswordPolicy,
		allowPublicRegistration: d.Config.AllowPublicRegistration,
		appURL:                  d.Config.DefaultAppURL,
		accessTTL:               d.Config.AccessTokenTTLDefault,
		refreshTTL:              d.Config.RefreshTokenTTLDefault,
		idTTL:                   d.Config.IDTokenTTLDefault,
		emailVerifyTTL:          d.Config.EmailVerificationTokenTTL,
		resetTTL:                d.Config.PasswordResetTokenTTL,
		magicLinkTTL:            d.Config.MagicLinkTokenTTL,
		mfaChallengeTTL:         d.Config.MFAChallengeTTL,
		mfaMaxAttempts:          d.Config.MFAMaxAttempts,
	}
}

// LoginResult is what every successful (or MFA-pending) authentication path
// returns.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int64
	User         store.User
	SessionID    uuid.UUID
	MFARequired  bool
	PreAuthToken string
	ChallengeID  string
}

// RegisterInput is the new-account request shape.
type RegisterInput struct {
	Email      string
	Password   string
	FullName   string
	TenantSlug string // optional; joins an existing tenant as member if set
}

// Register creates a new user, optionally joining a tenant, and enqueues an
// email-verification token. It never returns ErrEmailTaken to an
// unauthenticated caller in a way that's distinguishable by timing from a
// weak-password rejection — both paths do roughly the same amount of work.
func (s *Service) Register(ctx context.Context, in RegisterInput) (store.User, error) {
	if !s.allowPublicRegistration && in.TenantSlug == "" {
		return store.User{}, ErrRegistrationClosed
	}
	if err := ValidatePassword(in.Password, s.policy); err != nil {
		return store.User{}, err
	}

	email := identity.NormalizeEmail(in.Email)
	if _, err := s.db.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return store.User{}, fmt.Errorf("authn: hashing password: %w", err)
	}

	var fullName *string
	if in.FullName != "" {
		fullName = &in.FullName
	}

	user, err := s.db.CreateUser(ctx, store.CreateUserParams{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: &hash,
		FullName:     fullName,
	})
	if err != nil {
		return store.User{}, fmt.Errorf("authn: creating user: %w", err)
	}

	if in.TenantSlug != "" {
		tenant, err := s.tenants.GetTenantBySlug(ctx, identity.NormalizeSlug(in.TenantSlug))
		if err == nil {
			_, _ = s.db.CreateMembership(ctx, user.ID, tenant.ID, "member")
			_ = s.db.SetDefaultTenant(ctx, user.ID, &tenant.ID)
		}
	}

	s.sendVerificationEmail(ctx, user)

	s.audit.Log(ctx, audit.Event{
		Type: "user.registered", Category: audit.CategoryUserManagement,
		Description: "new account registered", UserID: &user.ID,
	})
	return user, nil
}

func (s *Service) sendVerificationEmail(ctx context.Context, user store.User) {
	raw, hash, err := tokencodec.GenerateOpaqueRefreshToken()
	if err != nil {
		return
	}
	if _, err := s.db.CreateVerificationToken(ctx, uuid.New(), user.ID, hash, store.VerificationEmailVerify, time.Now().Add(s.emailVerifyTTL)); err != nil {
		return
	}
	if s.mail != nil {
		_ = s.mail.SendVerification(ctx, user.Email, raw, s.appURL)
	}
}

// VerifyEmail consumes an email-verification token.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	hash := tokencodec.HashRefreshToken(rawToken)
	vt, err := s.db.ConsumeVerificationToken(ctx, hash, store.VerificationEmailVerify)
	if err != nil {
		return ErrTokenInvalid
	}
	return s.db.MarkEmailVerified(ctx, vt.UserID)
}

// Login authenticates by password against the user's default tenant. A
// user with no password hash (federation only) surfaces as
// ErrInvalidCredentials, a disabled account as ErrAccountDisabled, and a
// locked-out or banned account as *lockout.ErrLocked.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (LoginResult, error) {
	user, err := s.authenticate(ctx, email, password, ip, userAgent)
	if err != nil {
		return LoginResult{}, err
	}
	if user.MFAEnabled {
		return s.startMFAChallenge(ctx, user, ip, userAgent)
	}
	return s.issueSession(ctx, user, ip, userAgent, true)
}

// LoginToTenant authenticates by password into a named organization. A
// wrong slug, unknown user, wrong password, and valid-credentials-but-not-
// a-member all burn comparable work and surface as indistinguishable
// failures, so the endpoint can't be used to probe membership.
func (s *Service) LoginToTenant(ctx context.Context, organizationSlug, email, password, ip, userAgent string) (LoginResult, error) {
	tenant, tenantErr := s.tenants.GetTenantBySlug(ctx, identity.NormalizeSlug(organizationSlug))
	if tenantErr != nil {
		s.hasher.VerifyUnknownUser(password)
		return LoginResult{}, ErrNotMember
	}

	user, err := s.authenticate(ctx, email, password, ip, userAgent)
	if err != nil {
		return LoginResult{}, err
	}

	if _, err := s.db.GetMembership(ctx, user.ID, tenant.ID); err != nil {
		s.audit.Log(ctx, audit.Event{Type: "auth.login.not_member", Category: audit.CategorySecurity, UserID: &user.ID, TenantID: &tenant.ID, IP: ip, UserAgent: userAgent,
			Description: "valid credentials presented for an organization the user does not belong to"})
		return LoginResult{}, ErrNotMember
	}

	if user.MFAEnabled {
		return s.startMFAChallenge(ctx, user, ip, userAgent)
	}
	return s.issueSessionForTenant(ctx, user, &tenant.ID, ip, userAgent, true)
}

// authenticate runs the credential pipeline shared by Login and
// LoginToTenant: user lookup, lockout enforcement, constant-time
// verification, and transparent hash upgrade.
func (s *Service) authenticate(ctx context.Context, email, password, ip, userAgent string) (store.User, error) {
	email = identity.NormalizeEmail(email)

	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		// Burn the same time a real verification would take, so the error
		// path doesn't reveal account existence.
		s.hasher.VerifyUnknownUser(password)
		return store.User{}, ErrInvalidCredentials
	}

	if locked, remaining := s.lockouts.Locked(ctx, user.ID); locked {
		s.audit.Log(ctx, audit.Event{Type: "auth.login.locked", Category: audit.CategoryAuthentication, UserID: &user.ID, IP: ip, UserAgent: userAgent,
			Description: fmt.Sprintf("account locked, retry in %s", remaining)})
		return store.User{}, &lockout.ErrLocked{RetryAfter: remaining}
	}

	if !user.IsActive {
		return store.User{}, ErrAccountDisabled
	}
	if user.PasswordHash == nil {
		return store.User{}, ErrInvalidCredentials
	}

	ok, needsRehash, err := s.hasher.Verify(*user.PasswordHash, password)
	if err != nil || !ok {
		if err := s.lockouts.RecordFailure(ctx, user.ID, email, ip, userAgent); err != nil {
			s.audit.Log(ctx, audit.Event{Type: "auth.lockout.write_failed", Category: audit.CategorySystem, UserID: &user.ID, Description: err.Error()})
		}
		s.audit.Log(ctx, audit.Event{Type: "auth.login.failure", Category: audit.CategoryAuthentication, UserID: &user.ID, IP: ip, UserAgent: userAgent})
		return store.User{}, ErrInvalidCredentials
	}
	if err := s.lockouts.RecordSuccess(ctx, user.ID, email, ip, userAgent); err != nil {
		s.audit.Log(ctx, audit.Event{Type: "auth.lockout.write_failed", Category: audit.CategorySystem, UserID: &user.ID, Description: err.Error()})
	}

	if needsRehash {
		if newHash, err := s.hasher.Hash(password); err == nil {
			_ = s.db.UpdateUserPassword(ctx, user.ID, newHash)
		}
	}
	return user, nil
}

// issueSession opens a login session scoped to the user's default tenant.
func (s *Service) issueSession(ctx context.Context, user store.User, ip, userAgent string, mfaVerified bool) (LoginResult, error) {
	return s.issueSessionForTenant(ctx, user, user.DefaultTenantID, ip, userAgent, mfaVerified)
}

// issueSessionForTenant opens a login session plus the first refresh token
// in a new family, and signs the paired access token, all under tenantID.
func (s *Service) issueSessionForTenant(ctx context.Context, user store.User, tenantID *uuid.UUID, ip, userAgent string, mfaVerified bool) (LoginResult, error) {
	sess, err := s.sessions.StartLoginSession(ctx, user.ID, tenantID, ip, userAgent, mfaVerified)
	if err != nil {
		return LoginResult{}, fmt.Errorf("authn: starting session: %w", err)
	}

	role := s.resolveRole(ctx, user, tenantID)

	access, err := s.tokens.GenerateAccessToken(user.ID, tenantID, role, "", s.accessTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("authn: signing access token: %w", err)
	}

	rawRefresh, _, err := s.sessions.IssueFirstRefreshToken(ctx, user.ID, tenantID, "", "offline_access", &sess.ID, ip, userAgent, s.refreshTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("authn: issuing refresh token: %w", err)
	}

	s.audit.Log(ctx, audit.Event{Type: "auth.login.success", Category: audit.CategoryAuthentication, UserID: &user.ID, TenantID: tenantID, IP: ip, UserAgent: userAgent})

	return LoginResult{
		AccessToken:  access,
		RefreshToken: rawRefresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		User:         user,
		SessionID:    sess.ID,
	}, nil
}

// resolveRole looks up the caller's tenant-local role, falling back to
// "member" when there's no membership row (a user with no tenant yet,
// e.g. platform-admin-only accounts).
func (s *Service) resolveRole(ctx context.Context, user store.User, tenantID *uuid.UUID) string {
	if user.IsPlatformAdmin {
		return "platform_admin"
	}
	if tenantID == nil {
		return "member"
	}
	m, err := s.db.GetMembership(ctx, user.ID, *tenantID)
	if err != nil {
		return "member"
	}
	return m.Role
}

// ChangePassword revokes every existing session/refresh token family — a
// password change invalidates anything issued under the old credential.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		return ErrInvalidCredentials
	}
	if user.PasswordHash == nil {
		return ErrInvalidCredentials
	}
	ok, _, err := s.hasher.Verify(*user.PasswordHash, oldPassword)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}
	if err := ValidatePassword(newPassword, s.policy); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("authn: hashing password: %w", err)
	}
	if err := s.db.UpdateUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("authn: updating password: %w", err)
	}
	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("authn: revoking sessions: %w", err)
	}
	s.audit.Log(ctx, audit.Event{Type: "auth.password.changed", Category: audit.CategoryAuthentication, UserID: &userID})
	return nil
}

// ValidatePassword enforces the configured minimum-strength policy.
func ValidatePassword(password string, policy config.PasswordPolicy) error {
	if len(password) < policy.MinLength {
		return ErrWeakPassword
	}
	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsNumber(r):
			hasNumber = true
		case strings.ContainsRune(`!@#$%^&*()_+-=[]{}|;:'",.<>/?`, r):
			hasSpecial = true
		}
	}
	if policy.RequireUpper && !hasUpper {
		return ErrWeakPassword
	}
	if policy.RequireLower && !hasLower {
		return ErrWeakPassword
	}
	if policy.RequireNumber && !hasNumber {
		return ErrWeakPassword
	}
	if policy.RequireSpecial && !hasSpecial {
		return ErrWeakPassword
	}
	return nil
}
