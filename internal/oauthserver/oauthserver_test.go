package oauthserver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/passwordhash"
	"github.com/lavente-care/ciam/internal/store"
)

// fakeStore stubs the persistence surface; only what each test path touches
// is populated.
type fakeStore struct {
	apps     map[string]store.Application
	consents map[string]store.OAuthConsent // keyed userID|clientID
	codes    map[string]store.AuthorizationCode

	revokedFamilies []uuid.UUID
}

func newFake() *fakeStore {
	return &fakeStore{
		apps:     make(map[string]store.Application),
		consents: make(map[string]store.OAuthConsent),
		codes:    make(map[string]store.AuthorizationCode),
	}
}

var errNotFound = errors.New("not found")

func (f *fakeStore) GetApplicationByClientID(_ context.Context, clientID string) (store.Application, error) {
	a, ok := f.apps[clientID]
	if !ok {
		return store.Application{}, errNotFound
	}
	return a, nil
}

func (f *fakeStore) CreateAuthorizationCode(_ context.Context, p store.CreateAuthorizationCodeParams) error {
	f.codes[p.Code] = store.AuthorizationCode{
		Code: p.Code, ClientID: p.ClientID, UserID: p.UserID, TenantID: p.TenantID,
		RedirectURI: p.RedirectURI, Scope: p.Scope, CodeChallenge: p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod, Nonce: p.Nonce, State: p.State, ExpiresAt: p.ExpiresAt,
	}
	return nil
}

func (f *fakeStore) ConsumeAuthorizationCode(_ context.Context, code string) (store.AuthorizationCode, error) {
	c, ok := f.codes[code]
	if !ok || c.UsedAt != nil || time.Now().After(c.ExpiresAt) {
		return store.AuthorizationCode{}, errNotFound
	}
	now := time.Now()
	c.UsedAt = &now
	f.codes[code] = c
	return c, nil
}

func (f *fakeStore) GetAuthorizationCode(_ context.Context, code string) (store.AuthorizationCode, error) {
	c, ok := f.codes[code]
	if !ok {
		return store.AuthorizationCode{}, errNotFound
	}
	return c, nil
}

func (f *fakeStore) LinkAuthorizationCodeFamily(_ context.Context, code string, familyID uuid.UUID) error {
	c := f.codes[code]
	c.RefreshFamilyID = &familyID
	f.codes[code] = c
	return nil
}

func (f *fakeStore) GetRefreshTokenByHash(context.Context, string) (store.RefreshToken, error) {
	return store.RefreshToken{}, errNotFound
}
func (f *fakeStore) GetLoginSessionByID(context.Context, uuid.UUID) (store.LoginSession, error) {
	return store.LoginSession{}, errNotFound
}
func (f *fakeStore) GetUserByID(context.Context, uuid.UUID) (store.User, error) {
	return store.User{}, errNotFound
}
func (f *fakeStore) GetMembership(context.Context, uuid.UUID, uuid.UUID) (store.TenantMember, error) {
	return store.TenantMember{}, errNotFound
}
func (f *fakeStore) RevokeRefreshToken(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) RevokeRefreshTokenFamily(_ context.Context, familyID uuid.UUID) (int64, error) {
	f.revokedFamilies = append(f.revokedFamilies, familyID)
	return 0, nil
}

func (f *fakeStore) GetConsent(_ context.Context, userID uuid.UUID, clientID string) (store.OAuthConsent, error) {
	c, ok := f.consents[userID.String()+"|"+clientID]
	if !ok {
		return store.OAuthConsent{}, errNotFound
	}
	return c, nil
}

func (f *fakeStore) GrantConsent(_ context.Context, userID uuid.UUID, clientID, scope string) (store.OAuthConsent, error) {
	c := store.OAuthConsent{ID: uuid.New(), UserID: userID, ClientID: clientID, Scope: scope, GrantedAt: time.Now()}
	f.consents[userID.String()+"|"+clientID] = c
	return c, nil
}

func spaApp() store.Application {
	return store.Application{
		ID:                      uuid.New(),
		Slug:                    "dashboard",
		AppType:                 store.AppTypeSPA,
		ClientID:                "c1",
		CallbackURLs:            []string{"https://app/callback"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		AllowedScopes:           []string{"openid", "profile", "email"},
		TokenEndpointAuthMethod: store.AuthMethodNone,
		IsFirstParty:            true,
		IsEnabled:               true,
	}
}

func newService(fs *fakeStore) *Service {
	return New(Deps{
		DB:        fs,
		Hasher:    passwordhash.New(passwordhash.Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}),
		Audit:     audit.NoopLogger{},
		Issuer:    "https://id.example.test",
		AccessTTL: time.Hour,
		IDTTL:     time.Hour,
	})
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestValidateAuthorize_HappyPath(t *testing.T) {
	fs := newFake()
	fs.apps["c1"] = spaApp()
	svc := newService(fs)

	app, err := svc.ValidateAuthorizeRequest(context.Background(), AuthorizeRequest{
		ClientID:            "c1",
		RedirectURI:         "https://app/callback",
		ResponseType:        "code",
		Scope:               "openid profile",
		CodeChallenge:       s256Challenge("verifier-value-with-enough-entropy"),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", app.ClientID)
}

func TestValidateAuthorize_RedirectURIMustMatchExactly(t *testing.T) {
	fs := newFake()
	fs.apps["c1"] = spaApp()
	svc := newService(fs)

	_, err := svc.ValidateAuthorizeRequest(context.Background(), AuthorizeRequest{
		ClientID:     "c1",
		RedirectURI:  "https://app/callback/extra",
		ResponseType: "code",
	})
	assert.ErrorIs(t, err, ErrInvalidRedirectURI)
}

func TestValidateAuthorize_PublicClientNeedsPKCE(t *testing.T) {
	fs := newFake()
	fs.apps["c1"] = spaApp()
	svc := newService(fs)

	_, err := svc.ValidateAuthorizeRequest(context.Background(), AuthorizeRequest{
		ClientID:     "c1",
		RedirectURI:  "https://app/callback",
		ResponseType: "code",
		Scope:        "openid",
	})
	assert.ErrorIs(t, err, ErrPKCERequired)
}

func TestValidateAuthorize_PlainPKCERejectedForPublicClients(t *testing.T) {
	fs := newFake()
	fs.apps["c1"] = spaApp()
	svc := newService(fs)

	_, err := svc.ValidateAuthorizeRequest(context.Background(), AuthorizeRequest{
		ClientID:            "c1",
		RedirectURI:         "https://app/callback",
		ResponseType:        "code",
		Scope:               "openid",
		CodeChallenge:       "the-verifier-itself",
		CodeChallengeMethod: "plain",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestValidateAuthorize_ScopeOutsideAllowedSetRejected(t *testing.T) {
	fs := newFake()
	fs.apps["c1"] = spaApp()
	svc := newService(fs)

	_, err := svc.ValidateAuthorizeRequest(context.Background(), AuthorizeRequest{
		ClientID:            "c1",
		RedirectURI:         "https://app/callback",
		ResponseType:        "code",
		Scope:               "openid admin:everything",
		CodeChallenge:       s256Challenge("v"),
		CodeChallengeMethod: "S256",
	})
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestValidateAuthorize_DisabledClientRejected(t *testing.T) {
	fs := newFake()
	app := spaApp()
	app.IsEnabled = false
	fs.apps["c1"] = app
	svc := newService(fs)

	_, err := svc.ValidateAuthorizeRequest(context.Background(), AuthorizeRequest{
		ClientID:     "c1",
		RedirectURI:  "https://app/callback",
		ResponseType: "code",
	})
	assert.ErrorIs(t, err, ErrUnauthorizedClient)
}

func TestEnsureConsent_FirstPartySkips(t *testing.T) {
	fs := newFake()
	svc := newService(fs)
	app := spaApp() // IsFirstParty: true

	err := svc.EnsureConsent(context.Background(), app, uuid.New(), "openid profile", false)
	assert.NoError(t, err)
}

func TestEnsureConsent_ThirdPartyPromptsThenRemembers(t *testing.T) {
	fs := newFake()
	svc := newService(fs)
	app := spaApp()
	app.IsFirstParty = false
	userID := uuid.New()

	err := svc.EnsureConsent(context.Background(), app, userID, "openid profile", false)
	assert.ErrorIs(t, err, ErrConsentRequired)

	require.NoError(t, svc.EnsureConsent(context.Background(), app, userID, "openid profile", true))

	// Recorded consent is reused without re-approval...
	assert.NoError(t, svc.EnsureConsent(context.Background(), app, userID, "openid profile", false))
	// ...but a wider scope set re-prompts.
	assert.ErrorIs(t, svc.EnsureConsent(context.Background(), app, userID, "openid profile email", false), ErrConsentRequired)
}

func TestVerifyPKCE_S256AndPlain(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.True(t, verifyPKCE(s256Challenge(verifier), store.PKCES256, verifier))
	assert.False(t, verifyPKCE(s256Challenge(verifier), store.PKCES256, verifier+"x"))
	assert.True(t, verifyPKCE("plain-value", store.PKCEPlain, "plain-value"))
	assert.False(t, verifyPKCE("plain-value", store.PKCEPlain, "other"))
}

func TestScopeSubset(t *testing.T) {
	allowed := []string{"openid", "profile", "email"}
	assert.True(t, scopeSubset("", allowed))
	assert.True(t, scopeSubset("openid", allowed))
	assert.True(t, scopeSubset("openid profile", allowed))
	assert.False(t, scopeSubset("openid admin", allowed))
}

func TestAuthenticateClient_ConfidentialSecretChecked(t *testing.T) {
	fs := newFake()
	hasher := passwordhash.New(passwordhash.Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	hash, err := hasher.Hash("s3cret")
	require.NoError(t, err)

	app := spaApp()
	app.AppType = store.AppTypeService
	app.TokenEndpointAuthMethod = store.AuthMethodClientSecretBasic
	app.ClientSecretHash = &hash
	fs.apps["c1"] = app

	svc := New(Deps{DB: fs, Hasher: hasher, Audit: audit.NoopLogger{}, Issuer: "https://id.example.test"})

	_, err = svc.authenticateClient(context.Background(), "c1", "s3cret")
	assert.NoError(t, err)
	_, err = svc.authenticateClient(context.Background(), "c1", "wrong")
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestExchange_ReplayedCodeBurnsLinkedFamily(t *testing.T) {
	fs := newFake()
	fs.apps["c1"] = spaApp()
	svc := newService(fs)

	// Seed a consumed code already linked to a refresh family.
	familyID := uuid.New()
	used := time.Now().Add(-10 * time.Second)
	fs.codes["C"] = store.AuthorizationCode{
		Code: "C", ClientID: "c1", UserID: uuid.New(), RedirectURI: "https://app/callback",
		ExpiresAt: time.Now().Add(time.Minute), UsedAt: &used, RefreshFamilyID: &familyID,
	}

	_, err := svc.ExchangeAuthorizationCode(context.Background(), "c1", "", "https://app/callback", "C", "v", "1.2.3.4", "ua")
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.Contains(t, fs.revokedFamilies, familyID)
}
