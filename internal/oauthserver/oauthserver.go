// Package oauthserver implements the OAuth 2.0 / OIDC protocol surface
// sitting on top of internal/authn's authenticated sessions: the
// authorization_code (with mandatory PKCE for public clients),
// refresh_token, and client_credentials grants, RFC 7662 introspection,
// RFC 7009 revocation, and the OIDC discovery/userinfo documents. Every
// flow is driven by a registered application (internal/store.Application)
// and its per-client grant, scope, and TTL configuration.
package oauthserver

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/passwordhash"
	"github.com/lavente-care/ciam/internal/session"
	"github.com/lavente-care/ciam/internal/store"
	"github.com/lavente-care/ciam/internal/tokencodec"
)

var (
	ErrInvalidClient       = errors.New("oauthserver: invalid_client")
	ErrInvalidRequest      = errors.New("oauthserver: invalid_request")
	ErrInvalidGrant        = errors.New("oauthserver: invalid_grant")
	ErrUnsupportedGrant    = errors.New("oauthserver: unsupported_grant_type")
	ErrInvalidRedirectURI  = errors.New("oauthserver: invalid redirect_uri")
	ErrInvalidScope        = errors.New("oauthserver: invalid_scope")
	ErrUnauthorizedClient  = errors.New("oauthserver: unauthorized_client")
	ErrConsentRequired     = errors.New("oauthserver: consent_required")
	ErrPKCERequired        = errors.New("oauthserver: code_challenge required for public clients")
	ErrPKCEVerificationFail = errors.New("oauthserver: code_verifier does not match code_challenge")
)

// Store is the persistence surface this package depends on, narrowed from
// internal/store to what the OAuth flows actually touch.
type Store interface {
	GetApplicationByClientID(ctx context.Context, clientID string) (store.Application, error)
	CreateAuthorizationCode(ctx context.Context, p store.CreateAuthorizationCodeParams) error
	ConsumeAuthorizationCode(ctx context.Context, code string) (store.AuthorizationCode, error)
	GetAuthorizationCode(ctx context.Context, code string) (store.AuthorizationCode, error)
	LinkAuthorizationCodeFamily(ctx context.Context, code string, familyID uuid.UUID) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (store.RefreshToken, error)
	GetLoginSessionByID(ctx context.Context, id uuid.UUID) (store.LoginSession, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (store.User, error)
	GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (store.TenantMember, error)
	RevokeRefreshToken(ctx context.Context, id uuid.UUID) error
	RevokeRefreshTokenFamily(ctx context.Context, familyID uuid.UUID) (int64, error)
	GetConsent(ctx context.Context, userID uuid.UUID, clientID string) (store.OAuthConsent, error)
	GrantConsent(ctx context.Context, userID uuid.UUID, clientID, scope string) (store.OAuthConsent, error)
}

// Service is the entry point for every OAuth protocol flow.
type Service struct {
	db       Store
	sessions *session.Service
	tokens   *tokencodec.Codec
	hasher   *passwordhash.Hasher
	audit    audit.Logger

	issuer    string
	codeTTL   time.Duration
	accessTTL time.Duration
	idTTL     time.Duration
}

type Deps struct {
	DB        Store
	Sessions  *session.Service
	Tokens    *tokencodec.Codec
	Hasher    *passwordhash.Hasher
	Audit     audit.Logger
	Issuer    string
	CodeTTL   time.Duration
	AccessTTL time.Duration
	IDTTL     time.Duration
}

func New(d Deps) *Service {
	codeTTL := d.CodeTTL
	if codeTTL == 0 {
		codeTTL = 60 * time.Second
	}
	return &Service{
		db:        d.DB,
		sessions:  d.Sessions,
		tokens:    d.Tokens,
		hasher:    d.Hasher,
		audit:     d.Audit,
		issuer:    d.Issuer,
		codeTTL:   codeTTL,
		accessTTL: d.AccessTTL,
		idTTL:     d.IDTTL,
	}
}

// AuthorizeRequest is the parsed /authorize query string.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ValidateAuthorizeRequest checks the client registration and redirect URI
// before any user interaction happens, so a bad client_id fails closed
// rather than redirecting to an attacker-controlled URI.
func (s *Service) ValidateAuthorizeRequest(ctx context.Context, req AuthorizeRequest) (store.Application, error) {
	app, err := s.db.GetApplicationByClientID(ctx, req.ClientID)
	if err != nil {
		return store.Application{}, ErrInvalidClient
	}
	if !app.IsEnabled {
		return store.Application{}, ErrUnauthorizedClient
	}
	if !containsString(app.CallbackURLs, req.RedirectURI) {
		return store.Application{}, ErrInvalidRedirectURI
	}
	if req.ResponseType != "code" {
		return store.Application{}, ErrInvalidRequest
	}
	if !grantAllowed(app, "authorization_code") {
		return store.Application{}, ErrUnauthorizedClient
	}
	if !scopeSubset(req.Scope, app.AllowedScopes) {
		return store.Application{}, ErrInvalidScope
	}
	if requiresPKCE(app) && req.CodeChallenge == "" {
		return store.Application{}, ErrPKCERequired
	}
	if req.CodeChallenge != "" {
		method := store.PKCEMethod(req.CodeChallengeMethod)
		if method == "" {
			method = store.PKCES256
		}
		if method != store.PKCES256 && method != store.PKCEPlain {
			return store.Application{}, ErrInvalidRequest
		}
		// Public clients cannot keep the verifier secret from anything
		// inspecting their traffic, so the downgrade-prone plain method is
		// confidential-client-only.
		if method == store.PKCEPlain && requiresPKCE(app) {
			return store.Application{}, ErrInvalidRequest
		}
	}
	return app, nil
}

// requiresPKCE: public clients (SPA/native, or anything registered with
// token_endpoint_auth_method "none") must use PKCE; confidential clients
// may, but aren't forced to.
func requiresPKCE(app store.Application) bool {
	return app.AppType == store.AppTypeSPA || app.AppType == store.AppTypeNative || app.TokenEndpointAuthMethod == store.AuthMethodNone
}

// EnsureConsent gates code issuance for third-party clients: first-party
// applications skip the prompt entirely; otherwise an unrevoked consent row
// covering every requested scope must exist. When approved is set (the user
// just accepted the prompt) the consent is recorded and reused from then on.
func (s *Service) EnsureConsent(ctx context.Context, app store.Application, userID uuid.UUID, scope string, approved bool) error {
	if app.IsFirstParty {
		return nil
	}
	if approved {
		if _, err := s.db.GrantConsent(ctx, userID, app.ClientID, scope); err != nil {
			return fmt.Errorf("oauthserver: recording consent: %w", err)
		}
		s.audit.Log(ctx, audit.Event{Type: "oauth.consent.granted", Category: audit.CategoryAuthorization, UserID: &userID,
			Description: "consent granted to " + app.ClientID + " for " + scope})
		return nil
	}
	consent, err := s.db.GetConsent(ctx, userID, app.ClientID)
	if err != nil {
		return ErrConsentRequired
	}
	if !scopeSubset(scope, strings.Fields(consent.Scope)) {
		return ErrConsentRequired
	}
	return nil
}

// IssueAuthorizationCode is called once the resource owner has authenticated
// (and, for first use of this client, granted consent).
func (s *Service) IssueAuthorizationCode(ctx context.Context, app store.Application, userID uuid.UUID, tenantID *uuid.UUID, req AuthorizeRequest) (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("oauthserver: generating code: %w", err)
	}

	var challenge *string
	method := store.PKCEMethod(req.CodeChallengeMethod)
	if req.CodeChallenge != "" {
		challenge = &req.CodeChallenge
		if method == "" {
			method = store.PKCES256
		}
	}
	var nonce, state *string
	if req.Nonce != "" {
		nonce = &req.Nonce
	}
	if req.State != "" {
		state = &req.State
	}

	if err := s.db.CreateAuthorizationCode(ctx, store.CreateAuthorizationCodeParams{
		Code:                code,
		ClientID:            app.ClientID,
		UserID:              userID,
		TenantID:            tenantID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		Nonce:               nonce,
		State:               state,
		ExpiresAt:           time.Now().Add(s.codeTTL),
	}); err != nil {
		return "", fmt.Errorf("oauthserver: persisting authorization code: %w", err)
	}
	return code, nil
}

// TokenResult is the /token endpoint's JSON response body shape.
type TokenResult struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	IDToken      string
	Scope        string
}

// ExchangeAuthorizationCode implements the authorization_code grant,
// including PKCE verification — the single-use code consumption
// happens first so a replayed code can never mint two token pairs even
// under concurrent requests.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, clientID, clientSecret, redirectURI, code, codeVerifier, ip, userAgent string) (TokenResult, error) {
	app, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return TokenResult{}, err
	}

	ac, err := s.db.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		// The consume matched nothing: either the code never existed, it
		// expired, or it was already used. A replayed code burns the entire
		// refresh-token family it minted — an attacker who captured the
		// code must not keep tokens the legitimate client already holds.
		if prior, lookupErr := s.db.GetAuthorizationCode(ctx, code); lookupErr == nil && prior.UsedAt != nil {
			if prior.RefreshFamilyID != nil {
				_, _ = s.db.RevokeRefreshTokenFamily(ctx, *prior.RefreshFamilyID)
			}
			s.audit.Log(ctx, audit.Event{Type: "oauth.code.replayed", Category: audit.CategorySecurity, UserID: &prior.UserID, TenantID: prior.TenantID, IP: ip, UserAgent: userAgent,
				Description: "authorization code replay detected for " + prior.ClientID})
		}
		return TokenResult{}, ErrInvalidGrant
	}
	if ac.ClientID != app.ClientID || ac.RedirectURI != redirectURI {
		return TokenResult{}, ErrInvalidGrant
	}

	if ac.CodeChallenge != nil {
		if codeVerifier == "" {
			return TokenResult{}, ErrPKCERequired
		}
		if !verifyPKCE(*ac.CodeChallenge, ac.CodeChallengeMethod, codeVerifier) {
			return TokenResult{}, ErrPKCEVerificationFail
		}
	}

	user, err := s.db.GetUserByID(ctx, ac.UserID)
	if err != nil {
		return TokenResult{}, ErrInvalidGrant
	}
	role := s.resolveRole(ctx, user, ac.TenantID)

	access, err := s.tokens.GenerateAccessToken(user.ID, ac.TenantID, role, app.ClientID, s.appTTL(app.AccessTokenTTL, s.accessTTL))
	if err != nil {
		return TokenResult{}, fmt.Errorf("oauthserver: signing access token: %w", err)
	}

	rawRefresh, refreshToken, err := s.sessions.IssueFirstRefreshToken(ctx, user.ID, ac.TenantID, app.ClientID, ac.Scope, nil, ip, userAgent, s.appTTL(app.RefreshTokenTTL, 0))
	if err != nil {
		return TokenResult{}, fmt.Errorf("oauthserver: issuing refresh token: %w", err)
	}
	if err := s.db.LinkAuthorizationCodeFamily(ctx, ac.Code, refreshToken.FamilyID); err != nil {
		return TokenResult{}, fmt.Errorf("oauthserver: linking code to refresh family: %w", err)
	}

	result := TokenResult{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.appTTL(app.AccessTokenTTL, s.accessTTL).Seconds()),
		RefreshToken: rawRefresh,
		Scope:        ac.Scope,
	}

	if scopeContains(ac.Scope, "openid") {
		idToken, err := s.issueIDToken(user, ac.TenantID, app, ac.Nonce)
		if err == nil {
			result.IDToken = idToken
		}
	}

	s.audit.Log(ctx, audit.Event{Type: "oauth.token.issued", Category: audit.CategoryAuthentication, UserID: &user.ID, TenantID: ac.TenantID, IP: ip, UserAgent: userAgent,
		Description: "authorization_code exchanged for " + app.ClientID})
	return result, nil
}

// RefreshToken implements the refresh_token grant by delegating rotation to
// internal/session, then re-signing a fresh access token with current role
// data (a membership change since the last refresh takes effect here). A
// non-empty requestedScope becomes the response's scope; the stored
// successor token keeps the original scope. Widening fails.
func (s *Service) RefreshToken(ctx context.Context, clientID, clientSecret, presentedRaw, requestedScope, ip, userAgent string) (TokenResult, error) {
	app, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return TokenResult{}, err
	}

	existingHash := tokencodec.HashRefreshToken(presentedRaw)
	existing, lookupErr := s.db.GetRefreshTokenByHash(ctx, existingHash)
	if lookupErr == nil && existing.ClientID != app.ClientID {
		return TokenResult{}, ErrInvalidGrant
	}
	if requestedScope != "" && lookupErr == nil && !scopeSubset(requestedScope, strings.Fields(existing.Scope)) {
		return TokenResult{}, ErrInvalidScope
	}

	rawRefresh, newToken, err := s.sessions.Rotate(ctx, presentedRaw, ip, userAgent, s.appTTL(app.RefreshTokenTTL, 0))
	if err != nil {
		return TokenResult{}, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	if requestedScope != "" {
		newToken.Scope = requestedScope
	}

	user, err := s.db.GetUserByID(ctx, newToken.UserID)
	if err != nil {
		return TokenResult{}, ErrInvalidGrant
	}
	role := s.resolveRole(ctx, user, newToken.TenantID)

	access, err := s.tokens.GenerateAccessToken(user.ID, newToken.TenantID, role, app.ClientID, s.appTTL(app.AccessTokenTTL, s.accessTTL))
	if err != nil {
		return TokenResult{}, fmt.Errorf("oauthserver: signing access token: %w", err)
	}

	return TokenResult{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.appTTL(app.AccessTokenTTL, s.accessTTL).Seconds()),
		RefreshToken: rawRefresh,
		Scope:        newToken.Scope,
	}, nil
}

// ClientCredentials implements the machine-to-machine grant: no
// refresh token, no user — the access token's sub is the client itself.
func (s *Service) ClientCredentials(ctx context.Context, clientID, clientSecret, scope string) (TokenResult, error) {
	app, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return TokenResult{}, err
	}
	if app.AppType != store.AppTypeService && app.AppType != store.AppTypeAPI {
		return TokenResult{}, ErrUnauthorizedClient
	}
	if !grantAllowed(app, "client_credentials") {
		return TokenResult{}, ErrUnauthorizedClient
	}
	if !scopeSubset(scope, app.AllowedScopes) {
		return TokenResult{}, ErrInvalidScope
	}

	access, err := s.tokens.GenerateAccessToken(uuid.Nil, app.TenantID, "service", app.ClientID, s.appTTL(app.AccessTokenTTL, s.accessTTL))
	if err != nil {
		return TokenResult{}, fmt.Errorf("oauthserver: signing client credentials token: %w", err)
	}
	return TokenResult{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.appTTL(app.AccessTokenTTL, s.accessTTL).Seconds()),
		Scope:       scope,
	}, nil
}

func (s *Service) issueIDToken(user store.User, tenantID *uuid.UUID, app store.Application, nonce *string) (string, error) {
	claims := tokencodec.IDTokenClaims{
		UserID:        user.ID,
		TenantID:      tenantID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
	}
	if user.FullName != nil {
		claims.Name = *user.FullName
	}
	if nonce != nil {
		claims.Nonce = *nonce
	}
	return s.tokens.GenerateIDToken(claims, app.ClientID, s.appTTL(app.IDTokenTTL, s.idTTL))
}

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

// authenticateClient validates client_id/client_secret for confidential
// clients; public clients (token_endpoint_auth_method "none") skip secret
// verification since they can't keep one.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (store.Application, error) {
	app, err := s.db.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		return store.Application{}, ErrInvalidClient
	}
	if !app.IsEnabled {
		return store.Application{}, ErrUnauthorizedClient
	}
	if app.TokenEndpointAuthMethod == store.AuthMethodNone {
		return app, nil
	}
	if app.ClientSecretHash == nil {
		return store.Application{}, ErrInvalidClient
	}
	ok, _, err := s.hasher.Verify(*app.ClientSecretHash, clientSecret)
	if err != nil || !ok {
		return store.Application{}, ErrInvalidClient
	}
	return app, nil
}

func (s *Service) appTTL(appTTL, fallback time.Duration) time.Duration {
	if appTTL > 0 {
		return appTTL
	}
	return fallback
}

func grantAllowed(app store.Application, grant string) bool {
	return containsString(app.GrantTypes, grant)
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func scopeContains(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

// scopeSubset reports whether every space-delimited scope in requested is
// present in allowed. An empty request is trivially a subset.
func scopeSubset(requested string, allowed []string) bool {
	for _, want := range strings.Fields(requested) {
		if !containsString(allowed, want) {
			return false
		}
	}
	return true
}

func randomCode() (string, error) {
	raw, _, err := tokencodec.GenerateOpaqueRefreshToken()
	return raw, err
}

// verifyPKCE checks a presented code_verifier against the stored
// challenge: S256 hashes the verifier and compares the base64url digest;
// plain compares the verifier directly, constant-time either way.
func verifyPKCE(challenge string, method store.PKCEMethod, verifier string) bool {
	switch method {
	case store.PKCEPlain:
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1
	default:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(computed)) == 1
	}
}
