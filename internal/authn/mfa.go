package authn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/mfa"
	"github.com/lavente-care/ciam/internal/store"
)

// ErrMFAChallengeExpired and ErrMFAAttemptsExceeded cover the two ways a
// pending challenge can die before the user completes it.
var (
	ErrMFAChallengeExpired = fmt.Errorf("authn: mfa challenge expired")
	ErrMFAAttemptsExceeded = fmt.Errorf("authn: mfa attempt limit exceeded")
)

// startMFAChallenge issues a pre-auth token plus a durable challenge row,
// halting the login pipeline until CompleteMFA or CompleteMFABackupCode
// is called.
func (s *Service) startMFAChallenge(ctx context.Context, user store.User, ip, userAgent string) (LoginResult, error) {
	preAuth, err := s.tokens.GeneratePreAuthToken(user.ID, s.mfaChallengeTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("authn: signing pre-auth token: %w", err)
	}

	challengeToken := uuid.NewString()
	if _, err := s.db.CreateMfaChallenge(ctx, store.CreateMfaChallengeParams{
		ID:             uuid.New(),
		UserID:         user.ID,
		ChallengeToken: challengeToken,
		IP:             ip,
		ExpiresAt:      time.Now().Add(s.mfaChallengeTTL),
	}); err != nil {
		return LoginResult{}, fmt.Errorf("authn: creating mfa challenge: %w", err)
	}

	return LoginResult{
		User:         user,
		MFARequired:  true,
		PreAuthToken: preAuth,
		ChallengeID:  challengeToken,
	}, nil
}

// CompleteMFA verifies a TOTP code against the pre-auth token issued by
// Login, then completes the session the same way a non-MFA login would.
func (s *Service) CompleteMFA(ctx context.Context, preAuthToken, challengeToken, code, ip, userAgent string) (LoginResult, error) {
	claims, err := s.tokens.ValidateAccessToken(ctx, preAuthToken)
	if err != nil || claims.Scope != "pre_auth" {
		return LoginResult{}, ErrTokenInvalid
	}

	challenge, err := s.db.GetMfaChallenge(ctx, challengeToken)
	if err != nil || challenge.UserID != claims.UserID {
		return LoginResult{}, ErrTokenInvalid
	}
	if time.Now().After(challenge.ExpiresAt) {
		return LoginResult{}, ErrMFAChallengeExpired
	}
	if challenge.Attempts >= s.mfaMaxAttempts {
		return LoginResult{}, ErrMFAAttemptsExceeded
	}

	methods, err := s.db.ListMfaMethodsForUser(ctx, claims.UserID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("authn: loading mfa methods: %w", err)
	}

	var verified bool
	for _, m := range methods {
		if m.Type != store.MfaTOTP || !m.Verified || m.Secret == nil {
			continue
		}
		if s.mfaSvc.ValidateTOTP(code, *m.Secret) {
			verified = true
			break
		}
	}

	if !verified {
		if _, err := s.db.IncrementMfaChallengeAttempts(ctx, challenge.ID); err != nil {
			return LoginResult{}, fmt.Errorf("authn: recording mfa attempt: %w", err)
		}
		s.audit.Log(ctx, audit.Event{Type: "auth.mfa.failure", Category: audit.CategoryAuthentication, UserID: &claims.UserID, IP: ip, UserAgent: userAgent})
		return LoginResult{}, ErrInvalidMFACode
	}

	if err := s.db.MarkMfaChallengeVerified(ctx, challenge.ID); err != nil {
		return LoginResult{}, fmt.Errorf("authn: marking challenge verified: %w", err)
	}

	user, err := s.db.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return LoginResult{}, ErrTokenInvalid
	}
	return s.issueSession(ctx, user, ip, userAgent, true)
}

// CompleteMFABackupCode is the recovery path when the user's authenticator
// is unavailable: one of their single-use backup codes stands in for a TOTP
// code.
func (s *Service) CompleteMFABackupCode(ctx context.Context, preAuthToken, challengeToken, code, ip, userAgent string) (LoginResult, error) {
	claims, err := s.tokens.ValidateAccessToken(ctx, preAuthToken)
	if err != nil || claims.Scope != "pre_auth" {
		return LoginResult{}, ErrTokenInvalid
	}
	challenge, err := s.db.GetMfaChallenge(ctx, challengeToken)
	if err != nil || challenge.UserID != claims.UserID {
		return LoginResult{}, ErrTokenInvalid
	}
	if time.Now().After(challenge.ExpiresAt) {
		return LoginResult{}, ErrMFAChallengeExpired
	}
	if challenge.Attempts >= s.mfaMaxAttempts {
		return LoginResult{}, ErrMFAAttemptsExceeded
	}

	methods, err := s.db.ListMfaMethodsForUser(ctx, claims.UserID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("authn: loading mfa methods: %w", err)
	}

	hashed := mfa.HashBackupCode(code)
	var matched *store.MfaMethod
	for i := range methods {
		if methods[i].Type == store.MfaEmail && methods[i].Secret != nil && *methods[i].Secret == hashed {
			matched = &methods[i]
			break
		}
	}
	if matched == nil {
		if _, err := s.db.IncrementMfaChallengeAttempts(ctx, challenge.ID); err != nil {
			return LoginResult{}, fmt.Errorf("authn: recording mfa attempt: %w", err)
		}
		return LoginResult{}, ErrInvalidMFACode
	}

	// Backup codes are single-use: once matched, the method row (one row
	// per code, per the enrollment shape below) is deleted.
	if err := s.db.DeleteMfaMethod(ctx, matched.ID); err != nil {
		return LoginResult{}, fmt.Errorf("authn: consuming backup code: %w", err)
	}
	if err := s.db.MarkMfaChallengeVerified(ctx, challenge.ID); err != nil {
		return LoginResult{}, fmt.Errorf("authn: marking challenge verified: %w", err)
	}

	user, err := s.db.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return LoginResult{}, ErrTokenInvalid
	}
	s.audit.Log(ctx, audit.Event{Type: "auth.mfa.backup_code_used", Category: audit.CategoryAuthentication, UserID: &user.ID, IP: ip, UserAgent: userAgent})
	return s.issueSession(ctx, user, ip, userAgent, true)
}

// TOTPEnrollment is returned to the caller to render a QR code and confirm
// possession of the authenticator before it's activated.
type TOTPEnrollment struct {
	MethodID uuid.UUID
	Secret   string
	QRCodePNG []byte
}

// EnrollTOTP creates an unverified TOTP method. It stays unverified (and
// MFAEnabled stays false) until ActivateTOTP confirms the user can produce
// a valid code, preventing a typo'd secret from locking the account out.
func (s *Service) EnrollTOTP(ctx context.Context, userID uuid.UUID, accountName string) (TOTPEnrollment, error) {
	key, qr, err := s.mfaSvc.GenerateTOTPSecret(accountName)
	if err != nil {
		return TOTPEnrollment{}, fmt.Errorf("authn: generating totp secret: %w", err)
	}
	secret := key.Secret()
	method, err := s.db.CreateMfaMethod(ctx, store.CreateMfaMethodParams{
		ID:     uuid.New(),
		UserID: userID,
		Type:   store.MfaTOTP,
		Secret: &secret,
	})
	if err != nil {
		return TOTPEnrollment{}, fmt.Errorf("authn: persisting mfa method: %w", err)
	}
	return TOTPEnrollment{MethodID: method.ID, Secret: secret, QRCodePNG: qr}, nil
}

// ActivateTOTP confirms enrollment with a live code and flips
// users.mfa_enabled on.
func (s *Service) ActivateTOTP(ctx context.Context, userID, methodID uuid.UUID, code string) error {
	method, err := s.db.GetMfaMethod(ctx, methodID)
	if err != nil || method.UserID != userID || method.Secret == nil {
		return ErrTokenInvalid
	}
	if !s.mfaSvc.ValidateTOTP(code, *method.Secret) {
		return ErrInvalidMFACode
	}
	if err := s.db.ActivateMfaMethod(ctx, methodID); err != nil {
		return fmt.Errorf("authn: activating mfa method: %w", err)
	}
	if err := s.db.SetUserMFAEnabled(ctx, userID, true); err != nil {
		return fmt.Errorf("authn: enabling mfa: %w", err)
	}
	s.audit.Log(ctx, audit.Event{Type: "auth.mfa.enabled", Category: audit.CategoryAuthentication, UserID: &userID})
	return nil
}

// GenerateBackupCodes replaces a user's backup codes with a fresh set,
// returning the plaintext codes exactly once; only their SHA-256 hash is
// persisted (one mfa_methods row of type "email" per code, reusing that
// column set as a convenient single-use-secret store rather than adding a
// dedicated table).
func (s *Service) GenerateBackupCodes(ctx context.Context, userID uuid.UUID, count int) ([]string, error) {
	codes, err := s.mfaSvc.GenerateBackupCodes(count)
	if err != nil {
		return nil, fmt.Errorf("authn: generating backup codes: %w", err)
	}
	existing, err := s.db.ListMfaMethodsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("authn: loading mfa methods: %w", err)
	}
	for _, m := range existing {
		if m.Type != store.MfaEmail {
			continue
		}
		if err := s.db.DeleteMfaMethod(ctx, m.ID); err != nil {
			return nil, fmt.Errorf("authn: removing old backup code: %w", err)
		}
	}
	for _, code := range codes {
		hash := mfa.HashBackupCode(code)
		if _, err := s.db.CreateMfaMethod(ctx, store.CreateMfaMethodParams{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      store.MfaEmail,
			Secret:    &hash,
			IsPrimary: false,
		}); err != nil {
			return nil, fmt.Errorf("authn: persisting backup code: %w", err)
		}
	}
	return codes, nil
}

// DisableMFA removes every enrolled method and flips mfa_enabled off. It
// makes no password check, and the DELETE /api/v1/auth/mfa handler calls it
// for any authenticated caller without one.
func (s *Service) DisableMFA(ctx context.Context, userID uuid.UUID) error {
	methods, err := s.db.ListMfaMethodsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("authn: loading mfa methods: %w", err)
	}
	for _, m := range methods {
		if err := s.db.DeleteMfaMethod(ctx, m.ID); err != nil {
			return fmt.Errorf("authn: removing mfa method: %w", err)
		}
	}
	return s.db.SetUserMFAEnabled(ctx, userID, false)
}
