package oauthserver

import (
	"context"
	"time"

	"github.com/lavente-care/ciam/internal/tokencodec"
)

// IntrospectionResult is the RFC 7662 response body. Inactive tokens return
// only Active=false — no other claim is populated, per the RFC's guidance
// against leaking details about tokens the caller doesn't already hold.
type IntrospectionResult struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	TenantID  string   `json:"tid,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
}

// Introspect implements RFC 7662 for both access tokens (verified as a JWT)
// and refresh tokens (looked up by hash, since they're opaque).
func (s *Service) Introspect(ctx context.Context, clientID, clientSecret, token, tokenTypeHint string) (IntrospectionResult, error) {
	if _, err := s.authenticateClient(ctx, clientID, clientSecret); err != nil {
		return IntrospectionResult{}, ErrInvalidClient
	}

	if tokenTypeHint != "refresh_token" {
		if claims, err := s.tokens.ValidateAccessToken(ctx, token); err == nil {
			result := IntrospectionResult{
				Active:    true,
				Scope:     claims.Scope,
				ClientID:  claims.ClientID,
				Sub:       claims.UserID.String(),
				TokenType: "Bearer",
			}
			if claims.ExpiresAt != nil {
				result.Exp = claims.ExpiresAt.Unix()
			}
			if claims.IssuedAt != nil {
				result.Iat = claims.IssuedAt.Unix()
			}
			if claims.TenantID != nil {
				result.TenantID = claims.TenantID.String()
			}
			return result, nil
		}
	}

	hash := tokencodec.HashRefreshToken(token)
	rt, err := s.db.GetRefreshTokenByHash(ctx, hash)
	if err != nil || rt.RevokedAt != nil {
		return IntrospectionResult{Active: false}, nil
	}
	if rt.ExpiresAt != nil && time.Now().After(*rt.ExpiresAt) {
		return IntrospectionResult{Active: false}, nil
	}
	// A refresh token minted under a login session dies with that session.
	if rt.SessionID != nil {
		sess, err := s.db.GetLoginSessionByID(ctx, *rt.SessionID)
		if err != nil || sess.RevokedAt != nil {
			return IntrospectionResult{Active: false}, nil
		}
	}
	result := IntrospectionResult{
		Active:    true,
		Scope:     rt.Scope,
		ClientID:  rt.ClientID,
		Sub:       rt.UserID.String(),
		TokenType: "refresh_token",
	}
	if rt.TenantID != nil {
		result.TenantID = rt.TenantID.String()
	}
	return result, nil
}

// Revoke implements RFC 7009. Revoking a refresh token revokes its whole
// family — the presented token plus any successor already rotated from it —
// so a client logging out can't leave a live descendant behind.
func (s *Service) Revoke(ctx context.Context, clientID, clientSecret, token, tokenTypeHint string) error {
	if _, err := s.authenticateClient(ctx, clientID, clientSecret); err != nil {
		return ErrInvalidClient
	}

	if tokenTypeHint == "access_token" {
		// Access tokens are stateless JWTs honored until expiry; RFC 7009
		// §2.2 treats unsupported token types as a success with no effect.
		return nil
	}

	hash := tokencodec.HashRefreshToken(token)
	rt, err := s.db.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		// RFC 7009 §2.2: an invalid token is not an error.
		return nil
	}
	_, err = s.db.RevokeRefreshTokenFamily(ctx, rt.FamilyID)
	return err
}
