package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CreateApplicationParams struct {
	ID                      uuid.UUID
	TenantID                *uuid.UUID
	Slug                    string
	AppType                 AppType
	ClientID                string
	ClientSecretHash        *string
	CallbackURLs            []string
	LogoutURLs              []string
	WebOrigins              []string
	GrantTypes              []string
	ResponseTypes           []string
	AllowedScopes           []string
	TokenEndpointAuthMethod TokenEndpointAuthMethod
	AccessTokenTTL          time.Duration
	RefreshTokenTTL         time.Duration
	IDTokenTTL              time.Duration
	IsFirstParty            bool
}

const applicationInsertColumns = `id, tenant_id, slug, app_type, client_id, client_secret_hash, callback_urls, logout_urls,
	web_origins, grant_types, response_types, allowed_scopes, token_endpoint_auth_method,
	access_token_ttl, refresh_token_ttl, id_token_ttl, is_first_party, is_enabled`

const applicationColumns = applicationInsertColumns + `, created_at, updated_at`

func scanApplication(row interface{ Scan(...any) error }) (Application, error) {
	var a Application
	var accessTTL, refreshTTL, idTTL int64
	err := row.Scan(&a.ID, &a.TenantID, &a.Slug, &a.AppType, &a.ClientID, &a.ClientSecretHash, &a.CallbackURLs, &a.LogoutURLs,
		&a.WebOrigins, &a.GrantTypes, &a.ResponseTypes, &a.AllowedScopes, &a.TokenEndpointAuthMethod,
		&accessTTL, &refreshTTL, &idTTL, &a.IsFirstParty, &a.IsEnabled, &a.CreatedAt, &a.UpdatedAt)
	a.AccessTokenTTL = time.Duration(accessTTL) * time.Second
	a.RefreshTokenTTL = time.Duration(refreshTTL) * time.Second
	a.IDTokenTTL = time.Duration(idTTL) * time.Second
	return a, err
}

func (q *Queries) CreateApplication(ctx context.Context, p CreateApplicationParams) (Application, error) {
	query := `INSERT INTO applications (` + applicationInsertColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING ` + applicationColumns
	row := q.db.QueryRow(ctx, query,
		p.ID, p.TenantID, p.Slug, p.AppType, p.ClientID, p.ClientSecretHash, p.CallbackURLs, p.LogoutURLs,
		p.WebOrigins, p.GrantTypes, p.ResponseTypes, p.AllowedScopes, p.TokenEndpointAuthMethod,
		int64(p.AccessTokenTTL/time.Second), int64(p.RefreshTokenTTL/time.Second), int64(p.IDTokenTTL/time.Second),
		p.IsFirstParty, true)
	return scanApplication(row)
}

func (q *Queries) GetApplicationByClientID(ctx context.Context, clientID string) (Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE client_id = $1`
	return scanApplication(q.db.QueryRow(ctx, query, clientID))
}

func (q *Queries) GetApplicationByID(ctx context.Context, id uuid.UUID) (Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	return scanApplication(q.db.QueryRow(ctx, query, id))
}

// ListApplicationsForTenant returns a tenant's registrations, or the
// platform-scoped ones when tenantID is nil.
func (q *Queries) ListApplicationsForTenant(ctx context.Context, tenantID *uuid.UUID) ([]Application, error) {
	var query string
	var args []any
	if tenantID == nil {
		query = `SELECT ` + applicationColumns + ` FROM applications WHERE tenant_id IS NULL ORDER BY created_at`
	} else {
		query = `SELECT ` + applicationColumns + ` FROM applications WHERE tenant_id = $1 ORDER BY created_at`
		args = append(args, *tenantID)
	}
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *Queries) GetApplicationBySlug(ctx context.Context, tenantID *uuid.UUID, slug string) (Application, error) {
	var query string
	var row interface{ Scan(...any) error }
	if tenantID == nil {
		query = `SELECT ` + applicationColumns + ` FROM applications WHERE tenant_id IS NULL AND slug = $1`
		row = q.db.QueryRow(ctx, query, slug)
	} else {
		query = `SELECT ` + applicationColumns + ` FROM applications WHERE tenant_id = $1 AND slug = $2`
		row = q.db.QueryRow(ctx, query, *tenantID, slug)
	}
	return scanApplication(row)
}

func (q *Queries) RotateClientSecret(ctx context.Context, id uuid.UUID, newHash string) error {
	const query = `UPDATE applications SET client_secret_hash = $2, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, newHash)
	return err
}

func (q *Queries) SetApplicationEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	const query = `UPDATE applications SET is_enabled = $2, updated_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id, enabled)
	return err
}
