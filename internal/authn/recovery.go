package authn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/identity"
	"github.com/lavente-care/ciam/internal/store"
	"github.com/lavente-care/ciam/internal/tokencodec"
)

// RequestPasswordReset issues a single-use reset token and emails it. It
// always returns nil — whether or not the address belongs to an account —
// so the caller's HTTP handler can return one generic "check your email"
// response regardless of enumeration attempts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)
	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil
	}

	raw, hash, err := tokencodec.GenerateOpaqueRefreshToken()
	if err != nil {
		return fmt.Errorf("authn: generating reset token: %w", err)
	}
	if _, err := s.db.CreateVerificationToken(ctx, uuid.New(), user.ID, hash, store.VerificationPasswordReset, time.Now().Add(s.resetTTL)); err != nil {
		return fmt.Errorf("authn: persisting reset token: %w", err)
	}
	if s.mail != nil {
		_ = s.mail.SendPasswordReset(ctx, user.Email, raw, s.appURL)
	}
	s.audit.Log(ctx, audit.Event{Type: "auth.password_reset.requested", Category: audit.CategoryAuthentication, UserID: &user.ID})
	return nil
}

// CompletePasswordReset consumes the reset token, sets the new password,
// and revokes every existing session the same way ChangePassword does —
// a reset means the old credential (and anything issued under it) is no
// longer trusted.
func (s *Service) CompletePasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if err := ValidatePassword(newPassword, s.policy); err != nil {
		return err
	}
	hash := tokencodec.HashRefreshToken(rawToken)
	vt, err := s.db.ConsumeVerificationToken(ctx, hash, store.VerificationPasswordReset)
	if err != nil {
		return ErrTokenInvalid
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("authn: hashing password: %w", err)
	}
	if err := s.db.UpdateUserPassword(ctx, vt.UserID, newHash); err != nil {
		return fmt.Errorf("authn: updating password: %w", err)
	}
	_ = s.db.DeleteVerificationTokensForUser(ctx, vt.UserID, store.VerificationPasswordReset)
	if err := s.sessions.RevokeAllForUser(ctx, vt.UserID); err != nil {
		return fmt.Errorf("authn: revoking sessions: %w", err)
	}
	s.audit.Log(ctx, audit.Event{Type: "auth.password_reset.completed", Category: audit.CategoryAuthentication, UserID: &vt.UserID})
	return nil
}

// RequestMagicLink emails a passwordless sign-in link. Same enumeration
// posture as RequestPasswordReset: silent no-op for unknown addresses.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	email = identity.NormalizeEmail(email)
	user, err := s.db.GetUserByEmail(ctx, email)
	if err != nil {
		return nil
	}
	if !user.IsActive {
		return nil
	}

	raw, hash, err := tokencodec.GenerateOpaqueRefreshToken()
	if err != nil {
		return fmt.Errorf("authn: generating magic link token: %w", err)
	}
	if _, err := s.db.CreateVerificationToken(ctx, uuid.New(), user.ID, hash, store.VerificationMagicLink, time.Now().Add(s.magicLinkTTL)); err != nil {
		return fmt.Errorf("authn: persisting magic link token: %w", err)
	}
	if s.mail != nil {
		_ = s.mail.SendMagicLink(ctx, user.Email, raw, s.appURL)
	}
	return nil
}

// CompleteMagicLink consumes a passwordless sign-in token and opens a
// session exactly like a successful password login, including the MFA
// branch — a magic link authenticates the first factor only.
func (s *Service) CompleteMagicLink(ctx context.Context, rawToken, ip, userAgent string) (LoginResult, error) {
	hash := tokencodec.HashRefreshToken(rawToken)
	vt, err := s.db.ConsumeVerificationToken(ctx, hash, store.VerificationMagicLink)
	if err != nil {
		return LoginResult{}, ErrTokenInvalid
	}
	user, err := s.db.GetUserByID(ctx, vt.UserID)
	if err != nil {
		return LoginResult{}, ErrTokenInvalid
	}
	if !user.IsActive {
		return LoginResult{}, ErrAccountDisabled
	}

	if user.MFAEnabled {
		return s.startMFAChallenge(ctx, user, ip, userAgent)
	}
	return s.issueSession(ctx, user, ip, userAgent, false)
}

// RequestEmailChange records the pending new address and emails a
// confirmation link to it, not to the current address — ownership of the
// new mailbox is what's being proven.
func (s *Service) RequestEmailChange(ctx context.Context, userID uuid.UUID, newEmail string) error {
	newEmail = identity.NormalizeEmail(newEmail)
	if _, err := s.db.GetUserByEmail(ctx, newEmail); err == nil {
		return ErrEmailTaken
	}

	raw, hash, err := tokencodec.GenerateOpaqueRefreshToken()
	if err != nil {
		return fmt.Errorf("authn: generating email change token: %w", err)
	}
	if err := s.db.CreateEmailChangeRequest(ctx, userID, newEmail, hash); err != nil {
		return fmt.Errorf("authn: persisting email change request: %w", err)
	}
	if s.mail != nil {
		_ = s.mail.SendEmailChangeConfirmation(ctx, newEmail, raw, s.appURL)
	}
	return nil
}

// ConfirmEmailChange finalizes a pending email change: the new address
// becomes the user's email and is marked verified in the same step, since
// clicking the link already proved receipt.
func (s *Service) ConfirmEmailChange(ctx context.Context, rawToken string) error {
	hash := tokencodec.HashRefreshToken(rawToken)
	userID, newEmail, err := s.db.GetEmailChangeRequest(ctx, hash)
	if err != nil {
		return ErrTokenInvalid
	}
	ok, err := s.db.MarkEmailChangeRequestUsed(ctx, hash)
	if err != nil || !ok {
		return ErrTokenInvalid
	}
	if err := s.db.UpdateUserEmail(ctx, userID, newEmail); err != nil {
		return fmt.Errorf("authn: updating email: %w", err)
	}
	if err := s.db.MarkEmailVerified(ctx, userID); err != nil {
		return fmt.Errorf("authn: marking email verified: %w", err)
	}
	s.audit.Log(ctx, audit.Event{Type: "auth.email.changed", Category: audit.CategoryAuthentication, UserID: &userID})
	return nil
}
