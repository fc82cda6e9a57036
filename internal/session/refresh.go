// Package session implements login sessions (absolute + idle expiry) and
// refresh-token rotation with family-based reuse detection. Refresh TTLs
// are configurable per application and passed per call. The whole family
// is revoked on every re-presentation of an already-rotated token, with no
// grace period: concurrent racers resolve to exactly one winner, and the
// loser is treated as reuse.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/store"
	"github.com/lavente-care/ciam/internal/tokencodec"
)

// Errors surfaced to internal/oauthserver and internal/authn.
var (
	// ErrRefreshNotFound covers both "never existed" and "expired and
	// swept" — internal/oauthserver wraps it, like ErrReuseDetected and
	// ErrRefreshExpired, as invalid_grant, so the token-endpoint error
	// response can't be used to distinguish them.
	ErrRefreshNotFound = errors.New("refresh_token_not_found")
	ErrRefreshExpired  = errors.New("refresh_token_expired")
	// ErrReuseDetected means an already-rotated token was presented again:
	// the entire family is revoked unconditionally — there is no grace
	// period for concurrent racers; the loser of the race is treated as
	// reuse, exactly like an attacker replaying a stolen token.
	ErrReuseDetected = errors.New("refresh_token_reused")
)

type refreshStore interface {
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (store.RefreshToken, error)
	CreateRefreshToken(ctx context.Context, p store.CreateRefreshTokenParams) (store.RefreshToken, error)
	MarkRefreshTokenReplaced(ctx context.Context, id, replacedBy uuid.UUID) error
	RevokeRefreshToken(ctx context.Context, id uuid.UUID) error
	RevokeRefreshTokenFamily(ctx context.Context, familyID uuid.UUID) (int64, error)
	RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error
	RevokeRefreshTokensForSession(ctx context.Context, sessionID uuid.UUID) error

	CreateLoginSession(ctx context.Context, p store.CreateLoginSessionParams) (store.LoginSession, error)
	GetLoginSessionByID(ctx context.Context, id uuid.UUID) (store.LoginSession, error)
	TouchLoginSession(ctx context.Context, id uuid.UUID, idleExpiresAt time.Time) error
	RevokeLoginSession(ctx context.Context, id uuid.UUID) error
	RevokeAllLoginSessionsForUser(ctx context.Context, userID uuid.UUID) error
	ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]store.LoginSession, error)
}

// Service issues, rotates, and revokes refresh tokens and login sessions.
type Service struct {
	db           refreshStore
	absoluteTTL  time.Duration
	idleTTL      time.Duration
}

// New builds a Service. absoluteTTL/idleTTL configure login-session expiry;
// refresh-token TTL is passed per call since it varies by application.
func New(db refreshStore, absoluteTTL, idleTTL time.Duration) *Service {
	return &Service{db: db, absoluteTTL: absoluteTTL, idleTTL: idleTTL}
}

// StartLoginSession opens a new browser session at the authorization
// server. A random session token is generated and only its SHA-256 is
// stored; the raw token is not returned to the caller.
func (s *Service) StartLoginSession(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID, ip, userAgent string, mfaVerified bool) (store.LoginSession, error) {
	_, hash, err := tokencodec.GenerateOpaqueRefreshToken()
	if err != nil {
		return store.LoginSession{}, fmt.Errorf("session: generating session token: %w", err)
	}
	return s.db.CreateLoginSession(ctx, store.CreateLoginSessionParams{
		ID:          uuid.New(),
		TokenHash:   hash,
		UserID:      userID,
		TenantID:    tenantID,
		IP:          ip,
		UserAgent:   userAgent,
		ExpiresAt:   time.Now().Add(minDuration(s.absoluteTTL, s.idleTTL)),
		MFAVerified: mfaVerified,
	})
}

// TouchSession extends the idle-expiry clock, capped at the absolute TTL
// from authentication.
func (s *Service) TouchSession(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.db.GetLoginSessionByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session: loading session: %w", err)
	}
	absoluteDeadline := sess.AuthenticatedAt.Add(s.absoluteTTL)
	idleDeadline := time.Now().Add(s.idleTTL)
	newExpiry := idleDeadline
	if absoluteDeadline.Before(newExpiry) {
		newExpiry = absoluteDeadline
	}
	return s.db.TouchLoginSession(ctx, sessionID, newExpiry)
}

// IssueFirstRefreshToken mints the first token in a new rotation family,
// e.g. at login or on the initial authorization_code exchange.
func (s *Service) IssueFirstRefreshToken(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID, clientID, scope string, sessionID *uuid.UUID, ip, userAgent string, ttl time.Duration) (raw string, token store.RefreshToken, err error) {
	raw, hash, err := tokencodec.GenerateOpaqueRefreshToken()
	if err != nil {
		return "", store.RefreshToken{}, fmt.Errorf("session: generating refresh token: %w", err)
	}
	expiresAt := time.Now().Add(ttl)
	token, err = s.db.CreateRefreshToken(ctx, store.CreateRefreshTokenParams{
		ID:        uuid.New(),
		TokenHash: hash,
		ClientID:  clientID,
		UserID:    userID,
		TenantID:  tenantID,
		FamilyID:  uuid.New(),
		Scope:     scope,
		SessionID: sessionID,
		IPAddress: &ip,
		UserAgent: &userAgent,
		ExpiresAt: &expiresAt,
	})
	if err != nil {
		return "", store.RefreshToken{}, fmt.Errorf("session: persisting refresh token: %w", err)
	}
	return raw, token, nil
}

// Rotate implements the reuse-detection state machine: a live token rotates
// normally; presenting a token that was already rotated or revoked burns
// the entire family, whatever the reason for the re-presentation.
func (s *Service) Rotate(ctx context.Context, presentedRaw, ip, userAgent string, ttl time.Duration) (raw string, token store.RefreshToken, err error) {
	hash := tokencodec.HashRefreshToken(presentedRaw)

	existing, err := s.db.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		return "", store.RefreshToken{}, ErrRefreshNotFound
	}

	if existing.RevokedAt != nil {
		if _, revokeErr := s.db.RevokeRefreshTokenFamily(ctx, existing.FamilyID); revokeErr != nil {
			return "", store.RefreshToken{}, fmt.Errorf("session: revoking family after reuse: %w", revokeErr)
		}
		return "", store.RefreshToken{}, ErrReuseDetected
	}

	if existing.ExpiresAt != nil && time.Now().After(*existing.ExpiresAt) {
		return "", store.RefreshToken{}, ErrRefreshExpired
	}

	newRaw, newHash, err := tokencodec.GenerateOpaqueRefreshToken()
	if err != nil {
		return "", store.RefreshToken{}, fmt.Errorf("session: generating refresh token: %w", err)
	}
	expiresAt := time.Now().Add(ttl)

	newToken, err := s.db.CreateRefreshToken(ctx, store.CreateRefreshTokenParams{
		ID:        uuid.New(),
		TokenHash: newHash,
		ClientID:  existing.ClientID,
		UserID:    existing.UserID,
		TenantID:  existing.TenantID,
		FamilyID:  existing.FamilyID,
		Scope:     existing.Scope,
		SessionID: existing.SessionID,
		IPAddress: &ip,
		UserAgent: &userAgent,
		ExpiresAt: &expiresAt,
	})
	if err != nil {
		return "", store.RefreshToken{}, fmt.Errorf("session: persisting rotated refresh token: %w", err)
	}

	if err := s.db.RevokeRefreshToken(ctx, existing.ID); err != nil {
		return "", store.RefreshToken{}, fmt.Errorf("session: revoking predecessor: %w", err)
	}
	if err := s.db.MarkRefreshTokenReplaced(ctx, existing.ID, newToken.ID); err != nil {
		return "", store.RefreshToken{}, fmt.Errorf("session: linking rotation: %w", err)
	}

	return newRaw, newToken, nil
}

// RevokeAllForUser burns every session and refresh token a user holds —
// used on password change and explicit "log out everywhere".
func (s *Service) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	if err := s.db.RevokeAllRefreshTokensForUser(ctx, userID); err != nil {
		return fmt.Errorf("session: revoking refresh tokens: %w", err)
	}
	if err := s.db.RevokeAllLoginSessionsForUser(ctx, userID); err != nil {
		return fmt.Errorf("session: revoking login sessions: %w", err)
	}
	return nil
}

func (s *Service) ListSessions(ctx context.Context, userID uuid.UUID) ([]store.LoginSession, error) {
	return s.db.ListSessionsForUser(ctx, userID)
}

func (s *Service) RevokeSession(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.db.RevokeRefreshTokensForSession(ctx, sessionID); err != nil {
		return fmt.Errorf("session: revoking session tokens: %w", err)
	}
	return s.db.RevokeLoginSession(ctx, sessionID)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
