// Package federation lets a tenant's end users sign in through an upstream
// OpenID Connect provider instead of a local password. It discovers the
// upstream issuer's endpoints, drives the authorization-code-plus-PKCE
// exchange, and verifies the returned ID token before handing a verified
// subject back to the caller.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/lavente-care/ciam/internal/store"
)

// ConnectionConfig is the shape expected in Connection.Config for
// type=oidc/social connections.
type ConnectionConfig struct {
	Issuer       string   `json:"issuer"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Claims is the subset of the upstream ID token this module cares about for
// JIT account linking.
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

var (
	ErrUnknownState   = fmt.Errorf("federation: unknown or expired state")
	ErrConnectionType = fmt.Errorf("federation: connection is not an OIDC/social connection")
	ErrMissingIDToken = fmt.Errorf("federation: token response did not include an id_token")
)

type pendingAuth struct {
	connectionID uuid.UUID
	verifier     string
	redirectURI  string
	config       ConnectionConfig
	expiresAt    time.Time
}

// Manager drives the upstream half of the federated-login flow. It caches
// discovered provider metadata per connection so a sign-in burst doesn't
// repeat the well-known lookup, and tracks in-flight authorization
// attempts in process memory — a single API replica is enough for a state
// value that lives for a few minutes at most.
type Manager struct {
	mu        sync.Mutex
	providers map[uuid.UUID]*oidc.Provider
	pending   map[string]pendingAuth
	stateTTL  time.Duration
}

func New() *Manager {
	return &Manager{
		providers: make(map[uuid.UUID]*oidc.Provider),
		pending:   make(map[string]pendingAuth),
		stateTTL:  10 * time.Minute,
	}
}

func parseConfig(conn store.Connection) (ConnectionConfig, error) {
	if conn.Type != store.ConnectionOIDC && conn.Type != store.ConnectionSocial {
		return ConnectionConfig{}, ErrConnectionType
	}
	var cfg ConnectionConfig
	if err := json.Unmarshal(conn.Config, &cfg); err != nil {
		return ConnectionConfig{}, fmt.Errorf("federation: parsing connection config: %w", err)
	}
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return ConnectionConfig{}, fmt.Errorf("federation: connection missing issuer or client_id")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return cfg, nil
}

func (m *Manager) providerFor(ctx context.Context, conn store.Connection, cfg ConnectionConfig) (*oidc.Provider, error) {
	m.mu.Lock()
	if p, ok := m.providers[conn.ID]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("federation: discovering issuer %q: %w", cfg.Issuer, err)
	}

	m.mu.Lock()
	m.providers[conn.ID] = provider
	m.mu.Unlock()
	return provider, nil
}

func (m *Manager) oauth2Config(provider *oidc.Provider, cfg ConnectionConfig, redirectURI string) oauth2.Config {
	return oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  redirectURI,
		Scopes:       cfg.Scopes,
	}
}

// BeginAuth starts an authorization-code-plus-PKCE request against conn's
// upstream issuer and returns the URL to redirect the end user to.
func (m *Manager) BeginAuth(ctx context.Context, conn store.Connection, redirectURI string) (string, error) {
	cfg, err := parseConfig(conn)
	if err != nil {
		return "", err
	}
	provider, err := m.providerFor(ctx, conn, cfg)
	if err != nil {
		return "", err
	}

	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()

	m.mu.Lock()
	m.pending[state] = pendingAuth{
		connectionID: conn.ID,
		verifier:     verifier,
		redirectURI:  redirectURI,
		config:       cfg,
		expiresAt:    time.Now().Add(m.stateTTL),
	}
	m.evictExpiredLocked()
	m.mu.Unlock()

	oauthCfg := m.oauth2Config(provider, cfg, redirectURI)
	authURL := oauthCfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	return authURL, nil
}

// Result is what CompleteAuth hands back once the upstream subject has been
// verified; the caller (internal/authn.CompleteFederatedLogin) turns this
// into a local session.
type Result struct {
	ConnectionID  uuid.UUID
	SubjectID     string
	Email         string
	FullName      string
	EmailVerified bool
}

// CompleteAuth exchanges the authorization code returned to the callback
// URL, verifies the ID token's signature and issuer/audience against the
// connection the original BeginAuth call targeted, and returns the
// verified subject.
func (m *Manager) CompleteAuth(ctx context.Context, state, code string) (Result, error) {
	m.mu.Lock()
	pending, ok := m.pending[state]
	if ok {
		delete(m.pending, state)
	}
	m.evictExpiredLocked()
	m.mu.Unlock()

	if !ok || time.Now().After(pending.expiresAt) {
		return Result{}, ErrUnknownState
	}

	provider, err := oidc.NewProvider(ctx, pending.config.Issuer)
	if err != nil {
		return Result{}, fmt.Errorf("federation: re-discovering issuer: %w", err)
	}
	oauthCfg := m.oauth2Config(provider, pending.config, pending.redirectURI)

	token, err := oauthCfg.Exchange(ctx, code, oauth2.VerifierOption(pending.verifier))
	if err != nil {
		return Result{}, fmt.Errorf("federation: exchanging code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Result{}, ErrMissingIDToken
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: pending.config.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Result{}, fmt.Errorf("federation: verifying id_token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return Result{}, fmt.Errorf("federation: decoding claims: %w", err)
	}
	if claims.Email == "" {
		return Result{}, fmt.Errorf("federation: id_token has no email claim")
	}

	return Result{
		ConnectionID:  pending.connectionID,
		SubjectID:     claims.Subject,
		Email:         claims.Email,
		FullName:      claims.Name,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// evictExpiredLocked drops stale pending auths so a long-running process
// doesn't accumulate abandoned login attempts. Callers must hold m.mu.
func (m *Manager) evictExpiredLocked() {
	now := time.Now()
	for state, p := range m.pending {
		if now.After(p.expiresAt) {
			delete(m.pending, state)
		}
	}
}

// BuildCallbackURL joins the configured public base URL with the
// federation callback path, used both when constructing the redirect_uri
// sent to the upstream provider and when registering it with that
// provider out of band.
func BuildCallbackURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("federation: invalid base url: %w", err)
	}
	u.Path = "/api/v1/federation/callback"
	return u.String(), nil
}
