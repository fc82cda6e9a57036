// Package identity is the tenant/user/application/connection repository,
// enforcing the two-level hierarchy cap, materialized hierarchy_path,
// slug/client_id uniqueness, connection scoping, and email normalization.
// It lives in its own package so internal/authn and internal/oauthserver
// can depend on it without pulling in password or session concerns.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/lavente-care/ciam/internal/store"
)

var (
	ErrHierarchyTooDeep   = errors.New("identity: tenant hierarchy is capped at two levels")
	ErrTenantHasChildren  = errors.New("identity: tenant has sub-tenants and cannot be deleted")
	ErrSlugTaken          = errors.New("identity: slug already in use")
	ErrInvalidConnection  = errors.New("identity: connection scope/tenant_id mismatch")
)

type tenantStore interface {
	InsertTenant(ctx context.Context, p store.InsertTenantParams) (store.Tenant, error)
	GetTenantByID(ctx context.Context, id uuid.UUID) (store.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (store.Tenant, error)
	ListChildTenants(ctx context.Context, parentID uuid.UUID) ([]store.Tenant, error)
	CountNonTerminalChildren(ctx context.Context, tenantID uuid.UUID) (int, error)
	DeleteTenantCascade(ctx context.Context, tenantID uuid.UUID) error
}

// Store is the full persistence surface the repository writes through.
type Store interface {
	tenantStore
	applicationStore
}

// Repository wraps internal/store with the business invariants the raw
// queries don't enforce themselves.
type Repository struct {
	db      tenantStore
	apps    applicationStore
	secrets secretHasher
}

func New(db Store, secrets secretHasher) *Repository {
	return &Repository{db: db, apps: db, secrets: secrets}
}

// CreateRootTenant creates a top-level (hierarchy_level 0) tenant.
func (r *Repository) CreateRootTenant(ctx context.Context, slug, name string, accountType store.AccountType, isolation store.IsolationMode) (store.Tenant, error) {
	return r.db.InsertTenant(ctx, store.InsertTenantParams{
		ID:             uuid.New(),
		Slug:           slug,
		Name:           name,
		AccountType:    accountType,
		IsolationMode:  isolation,
		ParentID:       nil,
		HierarchyLevel: 0,
		HierarchyPath:  slug,
		Settings:       []byte("{}"),
	})
}

// CreateChildTenant creates a sub-tenant under parentID, rejecting the
// request if parentID is already a child (hierarchy capped at two levels).
func (r *Repository) CreateChildTenant(ctx context.Context, parentID uuid.UUID, slug, name string, accountType store.AccountType, isolation store.IsolationMode) (store.Tenant, error) {
	parent, err := r.db.GetTenantByID(ctx, parentID)
	if err != nil {
		return store.Tenant{}, fmt.Errorf("identity: loading parent tenant: %w", err)
	}
	if parent.HierarchyLevel >= 1 {
		return store.Tenant{}, ErrHierarchyTooDeep
	}

	return r.db.InsertTenant(ctx, store.InsertTenantParams{
		ID:             uuid.New(),
		Slug:           slug,
		Name:           name,
		AccountType:    accountType,
		IsolationMode:  isolation,
		ParentID:       &parentID,
		HierarchyLevel: parent.HierarchyLevel + 1,
		HierarchyPath:  parent.HierarchyPath + "/" + slug,
		Settings:       []byte("{}"),
	})
}

// DeleteTenant rejects deletion while sub-tenants exist; cascading within a
// single tenant's own data (memberships, applications, sessions) is left to
// the database's ON DELETE CASCADE.
func (r *Repository) DeleteTenant(ctx context.Context, tenantID uuid.UUID) error {
	n, err := r.db.CountNonTerminalChildren(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("identity: counting children: %w", err)
	}
	if n > 0 {
		return ErrTenantHasChildren
	}
	return r.db.DeleteTenantCascade(ctx, tenantID)
}

func (r *Repository) GetTenant(ctx context.Context, id uuid.UUID) (store.Tenant, error) {
	return r.db.GetTenantByID(ctx, id)
}

func (r *Repository) GetTenantBySlug(ctx context.Context, slug string) (store.Tenant, error) {
	return r.db.GetTenantBySlug(ctx, slug)
}

func (r *Repository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]store.Tenant, error) {
	return r.db.ListChildTenants(ctx, parentID)
}

// ValidateConnectionScope enforces scope=platform <=> tenant_id=nil.
func ValidateConnectionScope(scope store.ConnectionScope, tenantID *uuid.UUID) error {
	if scope == store.ConnectionScopePlatform && tenantID != nil {
		return ErrInvalidConnection
	}
	if scope == store.ConnectionScopeOrganization && tenantID == nil {
		return ErrInvalidConnection
	}
	return nil
}

// NormalizeEmail applies NFC normalization and lowercasing so "José@X.com"
// and its decomposed-accent equivalent resolve to the same user row.
func NormalizeEmail(email string) string {
	normalized := norm.NFC.String(strings.TrimSpace(email))
	return strings.ToLower(normalized)
}

// NormalizeSlug lowercases and strips anything but letters, digits, and
// hyphens, matching the character set tenant/application slugs are
// constrained to in migrations.
func NormalizeSlug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '_':
			b.WriteRune('-')
		}
	}
	return b.String()
}
