// Package tokencodec signs and verifies the access and ID JWTs, and mints
// and hashes the opaque refresh token. Signing routes through
// internal/keymanager's rotation-aware key set by kid, so tokens signed
// just before a rotation keep verifying through the grace window.
package tokencodec

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/keymanager"
)

// Errors surfaced to internal/authn and internal/oauthserver; these map onto the
// spec's invalid_token / invalid_grant OAuth error kinds at the HTTP layer.
var (
	ErrInvalidToken = errors.New("invalid_token")
	ErrExpiredToken = errors.New("token_expired")
)

// maxClockSkew bounds how far iat/nbf may drift from server time.
const maxClockSkew = 60 * time.Second

// AccessClaims is the payload of an access token and of the short-lived
// pre-auth token issued mid-MFA (Scope distinguishes the two).
type AccessClaims struct {
	UserID   uuid.UUID  `json:"sub"`
	TenantID *uuid.UUID `json:"tid,omitempty"`
	Role     string     `json:"role,omitempty"`
	ClientID string     `json:"client_id,omitempty"`
	Scope    string     `json:"scope"`
	jwt.RegisteredClaims
}

// IDTokenClaims is the OIDC id_token payload.
type IDTokenClaims struct {
	UserID        uuid.UUID  `json:"sub"`
	TenantID      *uuid.UUID `json:"tid,omitempty"`
	Email         string     `json:"email,omitempty"`
	EmailVerified bool       `json:"email_verified,omitempty"`
	Name          string     `json:"name,omitempty"`
	Nonce         string     `json:"nonce,omitempty"`
	AuthTime      int64      `json:"auth_time,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs with the current key from internal/keymanager and verifies
// against any key still in its grace window.
type Codec struct {
	keys     *keymanager.Manager
	issuer   string
	audience string
}

// New builds a Codec. audience is the default audience stamped on
// first-party tokens; client-scoped tokens (OAuth access tokens issued to a
// registered application) override it with the client_id.
func New(keys *keymanager.Manager, issuer, audience string) *Codec {
	return &Codec{keys: keys, issuer: issuer, audience: audience}
}

// GenerateAccessToken signs an access token with Scope "access".
func (c *Codec) GenerateAccessToken(userID uuid.UUID, tenantID *uuid.UUID, role, clientID string, ttl time.Duration) (string, error) {
	claims := AccessClaims{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		ClientID: clientID,
		Scope:    "access",
	}
	return c.sign(&claims, ttl, audienceFor(clientID, c.audience))
}

// GeneratePreAuthToken signs a short-lived token with Scope "pre_auth",
// consumed by /mfa/verify or /mfa/backup to complete the MFA state machine.
func (c *Codec) GeneratePreAuthToken(userID uuid.UUID, ttl time.Duration) (string, error) {
	claims := AccessClaims{UserID: userID, Scope: "pre_auth"}
	return c.sign(&claims, ttl, c.audience)
}

func (c *Codec) sign(claims *AccessClaims, ttl time.Duration, audience string) (string, error) {
	kid, priv, err := c.keys.Current()
	if err != nil {
		return "", fmt.Errorf("tokencodec: %w", err)
	}
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	return token.SignedString(priv)
}

// GenerateIDToken signs an id_token. Callers populate RegisteredClaims.ID
// themselves only if they need a custom jti; it's otherwise generated here.
func (c *Codec) GenerateIDToken(claims IDTokenClaims, audience string, ttl time.Duration) (string, error) {
	kid, priv, err := c.keys.Current()
	if err != nil {
		return "", fmt.Errorf("tokencodec: %w", err)
	}
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
	token.Header["kid"] = kid
	return token.SignedString(priv)
}

// ValidateAccessToken parses and verifies an access/pre-auth token,
// enforcing RS256, issuer, clock skew, and kid resolution via
// internal/keymanager. An unrecognized kid is treated as invalid_token
// rather than surfaced as a lookup error.
func (c *Codec) ValidateAccessToken(ctx context.Context, tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser(jwt.WithIssuer(c.issuer), jwt.WithLeeway(maxClockSkew), jwt.WithIssuedAt())
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		return c.keys.Verifier(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWKS exposes the current verification key set for the discovery endpoint.
func (c *Codec) JWKS() *keymanager.JWKS {
	return c.keys.JWKS()
}

func audienceFor(clientID, fallback string) string {
	if clientID != "" {
		return clientID
	}
	return fallback
}

// GenerateOpaqueRefreshToken returns a 32-byte random token (base64url, for
// the client) and its SHA-256 hash (hex, for storage) — the refresh token
// itself is never persisted, only its hash.
func GenerateOpaqueRefreshToken() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("tokencodec: generating refresh token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashRefreshToken(raw), nil
}

// HashRefreshToken hashes a presented raw refresh token for lookup against
// the stored hash.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
