package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/store"
)

type applicationStore interface {
	CreateApplication(ctx context.Context, p store.CreateApplicationParams) (store.Application, error)
	GetApplicationByClientID(ctx context.Context, clientID string) (store.Application, error)
	GetApplicationBySlug(ctx context.Context, tenantID *uuid.UUID, slug string) (store.Application, error)
	ListApplicationsForTenant(ctx context.Context, tenantID *uuid.UUID) ([]store.Application, error)
	RotateClientSecret(ctx context.Context, id uuid.UUID, newHash string) error
	SetApplicationEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	GetApplicationByID(ctx context.Context, id uuid.UUID) (store.Application, error)

	CreateConnection(ctx context.Context, p store.CreateConnectionParams) (store.Connection, error)
	ListConnectionsForTenant(ctx context.Context, tenantID uuid.UUID) ([]store.Connection, error)
	SetConnectionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// secretHasher is the slice of passwordhash.Hasher application registration
// needs; client secrets are stored the same way passwords are.
type secretHasher interface {
	Hash(plaintext string) (string, error)
}

// RegisterApplicationInput is the admin-facing shape for creating an OAuth
// client. Zero values get sensible defaults per app type.
type RegisterApplicationInput struct {
	TenantID        *uuid.UUID
	Slug            string
	Name            string
	AppType         store.AppType
	CallbackURLs    []string
	LogoutURLs      []string
	WebOrigins      []string
	AllowedScopes   []string
	GrantTypes      []string
	AccessTokenTTL  int64 // seconds; 0 means the install-wide default
	RefreshTokenTTL int64
	IDTokenTTL      int64
	IsFirstParty    bool
}

// RegisterApplication creates an OAuth client registration. The generated
// client_secret is returned in plaintext exactly once; only its hash is
// stored. Public client types (spa, native) get no secret at all.
func (r *Repository) RegisterApplication(ctx context.Context, in RegisterApplicationInput) (store.Application, string, error) {
	slug := NormalizeSlug(in.Slug)
	if slug == "" {
		return store.Application{}, "", fmt.Errorf("identity: application slug is required")
	}
	if _, err := r.apps.GetApplicationBySlug(ctx, in.TenantID, slug); err == nil {
		return store.Application{}, "", ErrSlugTaken
	}

	clientID, err := randomToken("app")
	if err != nil {
		return store.Application{}, "", fmt.Errorf("identity: generating client_id: %w", err)
	}

	public := in.AppType == store.AppTypeSPA || in.AppType == store.AppTypeNative

	var plaintextSecret string
	var secretHash *string
	if !public {
		plaintextSecret, err = randomToken("secret")
		if err != nil {
			return store.Application{}, "", fmt.Errorf("identity: generating client secret: %w", err)
		}
		h, err := r.secrets.Hash(plaintextSecret)
		if err != nil {
			return store.Application{}, "", fmt.Errorf("identity: hashing client secret: %w", err)
		}
		secretHash = &h
	}

	authMethod := store.AuthMethodClientSecretBasic
	if public {
		authMethod = store.AuthMethodNone
	}

	grants := in.GrantTypes
	if len(grants) == 0 {
		if in.AppType == store.AppTypeService || in.AppType == store.AppTypeAPI {
			grants = []string{"client_credentials"}
		} else {
			grants = []string{"authorization_code", "refresh_token"}
		}
	}
	scopes := in.AllowedScopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email", "offline_access"}
	}

	app, err := r.apps.CreateApplication(ctx, store.CreateApplicationParams{
		ID:                      uuid.New(),
		TenantID:                in.TenantID,
		Slug:                    slug,
		AppType:                 in.AppType,
		ClientID:                clientID,
		ClientSecretHash:        secretHash,
		CallbackURLs:            in.CallbackURLs,
		LogoutURLs:              in.LogoutURLs,
		WebOrigins:              in.WebOrigins,
		GrantTypes:              grants,
		ResponseTypes:           []string{"code"},
		AllowedScopes:           scopes,
		TokenEndpointAuthMethod: authMethod,
		AccessTokenTTL:          secondsToDuration(in.AccessTokenTTL),
		RefreshTokenTTL:         secondsToDuration(in.RefreshTokenTTL),
		IDTokenTTL:              secondsToDuration(in.IDTokenTTL),
		IsFirstParty:            in.IsFirstParty,
	})
	if err != nil {
		return store.Application{}, "", fmt.Errorf("identity: creating application: %w", err)
	}
	return app, plaintextSecret, nil
}

// RotateApplicationSecret replaces the client secret atomically and returns
// the new plaintext once. Public clients have nothing to rotate.
func (r *Repository) RotateApplicationSecret(ctx context.Context, appID uuid.UUID) (string, error) {
	app, err := r.apps.GetApplicationByID(ctx, appID)
	if err != nil {
		return "", fmt.Errorf("identity: loading application: %w", err)
	}
	if app.TokenEndpointAuthMethod == store.AuthMethodNone {
		return "", fmt.Errorf("identity: public clients have no secret to rotate")
	}
	plaintext, err := randomToken("secret")
	if err != nil {
		return "", fmt.Errorf("identity: generating client secret: %w", err)
	}
	hash, err := r.secrets.Hash(plaintext)
	if err != nil {
		return "", fmt.Errorf("identity: hashing client secret: %w", err)
	}
	if err := r.apps.RotateClientSecret(ctx, appID, hash); err != nil {
		return "", fmt.Errorf("identity: rotating client secret: %w", err)
	}
	return plaintext, nil
}

func (r *Repository) ListApplications(ctx context.Context, tenantID *uuid.UUID) ([]store.Application, error) {
	return r.apps.ListApplicationsForTenant(ctx, tenantID)
}

func (r *Repository) SetApplicationEnabled(ctx context.Context, appID uuid.UUID, enabled bool) error {
	return r.apps.SetApplicationEnabled(ctx, appID, enabled)
}

// CreateConnection enforces scope=platform <=> tenant_id=nil at the write
// boundary before handing off to storage.
func (r *Repository) CreateConnection(ctx context.Context, tenantID *uuid.UUID, name string, connType store.ConnectionType, scope store.ConnectionScope, config json.RawMessage) (store.Connection, error) {
	if err := ValidateConnectionScope(scope, tenantID); err != nil {
		return store.Connection{}, err
	}
	if config == nil {
		config = json.RawMessage("{}")
	}
	return r.apps.CreateConnection(ctx, store.CreateConnectionParams{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     name,
		Type:     connType,
		Scope:    scope,
		Config:   config,
	})
}

func (r *Repository) ListConnections(ctx context.Context, tenantID uuid.UUID) ([]store.Connection, error) {
	return r.apps.ListConnectionsForTenant(ctx, tenantID)
}

func (r *Repository) SetConnectionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.apps.SetConnectionEnabled(ctx, id, enabled)
}

// randomToken builds a prefixed, URL-safe random identifier. 24 bytes of
// entropy keeps client ids and secrets unguessable without being unwieldy
// in configuration files.
func randomToken(prefix string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(buf), nil
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
