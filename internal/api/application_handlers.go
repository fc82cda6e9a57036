package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/api/helpers"
	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/identity"
	"github.com/lavente-care/ciam/internal/store"
)

type createApplicationRequest struct {
	TenantID        string   `json:"tenant_id,omitempty"`
	Slug            string   `json:"slug"`
	Name            string   `json:"name"`
	AppType         string   `json:"app_type"`
	CallbackURLs    []string `json:"callback_urls,omitempty"`
	LogoutURLs      []string `json:"logout_urls,omitempty"`
	WebOrigins      []string `json:"web_origins,omitempty"`
	AllowedScopes   []string `json:"allowed_scopes,omitempty"`
	GrantTypes      []string `json:"grant_types,omitempty"`
	AccessTokenTTL  int64    `json:"access_token_ttl,omitempty"`
	RefreshTokenTTL int64    `json:"refresh_token_ttl,omitempty"`
	IDTokenTTL      int64    `json:"id_token_ttl,omitempty"`
	IsFirstParty    bool     `json:"is_first_party,omitempty"`
}

// applicationResponse projects an Application row field by field; the
// secret hash never leaves the server.
func applicationResponse(app store.Application) map[string]any {
	return map[string]any{
		"id":             app.ID,
		"tenant_id":      app.TenantID,
		"slug":           app.Slug,
		"app_type":       app.AppType,
		"client_id":      app.ClientID,
		"callback_urls":  app.CallbackURLs,
		"logout_urls":    app.LogoutURLs,
		"web_origins":    app.WebOrigins,
		"grant_types":    app.GrantTypes,
		"allowed_scopes": app.AllowedScopes,
		"is_first_party": app.IsFirstParty,
		"is_enabled":     app.IsEnabled,
		"created_at":     app.CreatedAt,
	}
}

// CreateApplication serves POST /api/v1/admin/applications. The generated
// client_secret appears in this response and never again.
func (s *Server) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	appType := store.AppType(req.AppType)
	switch appType {
	case store.AppTypeService, store.AppTypeWebapp, store.AppTypeSPA, store.AppTypeNative, store.AppTypeAPI:
	default:
		helpers.RespondError(w, http.StatusBadRequest, "unknown app_type")
		return
	}

	var tenantID *uuid.UUID
	if req.TenantID != "" {
		id, err := uuid.Parse(req.TenantID)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		tenantID = &id
	}

	app, secret, err := s.Identity.RegisterApplication(r.Context(), identity.RegisterApplicationInput{
		TenantID:        tenantID,
		Slug:            req.Slug,
		AppType:         appType,
		CallbackURLs:    req.CallbackURLs,
		LogoutURLs:      req.LogoutURLs,
		WebOrigins:      req.WebOrigins,
		AllowedScopes:   req.AllowedScopes,
		GrantTypes:      req.GrantTypes,
		AccessTokenTTL:  req.AccessTokenTTL,
		RefreshTokenTTL: req.RefreshTokenTTL,
		IDTokenTTL:      req.IDTokenTTL,
		IsFirstParty:    req.IsFirstParty,
	})
	if err != nil {
		slog.Warn("create application: failed", "slug", req.Slug, "error", err)
		helpers.RespondError(w, http.StatusConflict, "unable to create application")
		return
	}

	s.Audit.Log(r.Context(), audit.Event{Type: "application.created", Category: audit.CategoryAdmin, TenantID: tenantID,
		Description: "application " + app.ClientID + " registered"})

	body := applicationResponse(app)
	if secret != "" {
		body["client_secret"] = secret
	}
	helpers.RespondJSON(w, http.StatusCreated, body)
}

// ListApplications serves GET /api/v1/admin/applications?tenant_id=...
func (s *Server) ListApplications(w http.ResponseWriter, r *http.Request) {
	var tenantID *uuid.UUID
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		tenantID = &id
	}
	apps, err := s.Identity.ListApplications(r.Context(), tenantID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list applications")
		return
	}
	out := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		out = append(out, applicationResponse(app))
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"applications": out})
}

// RotateApplicationSecret serves POST /api/v1/admin/applications/{appID}/rotate-secret.
// The new plaintext is returned exactly once.
func (s *Server) RotateApplicationSecret(w http.ResponseWriter, r *http.Request) {
	appID, err := uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	secret, err := s.Identity.RotateApplicationSecret(r.Context(), appID)
	if err != nil {
		slog.Warn("rotate application secret: failed", "app_id", appID, "error", err)
		helpers.RespondError(w, http.StatusConflict, "unable to rotate secret")
		return
	}
	s.Audit.Log(r.Context(), audit.Event{Type: "application.secret_rotated", Category: audit.CategoryAdmin,
		Description: "client secret rotated for application " + appID.String()})
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"client_secret": secret})
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetApplicationEnabled serves PATCH /api/v1/admin/applications/{appID}.
func (s *Server) SetApplicationEnabled(w http.ResponseWriter, r *http.Request) {
	appID, err := uuid.Parse(chi.URLParam(r, "appID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	var req setEnabledRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Identity.SetApplicationEnabled(r.Context(), appID, req.Enabled); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to update application")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createConnectionRequest struct {
	TenantID string          `json:"tenant_id,omitempty"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Scope    string          `json:"scope"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// CreateConnection serves POST /api/v1/admin/connections.
func (s *Server) CreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Name == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var tenantID *uuid.UUID
	if req.TenantID != "" {
		id, err := uuid.Parse(req.TenantID)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}
		tenantID = &id
	}
	conn, err := s.Identity.CreateConnection(r.Context(), tenantID, req.Name,
		store.ConnectionType(req.Type), store.ConnectionScope(req.Scope), req.Config)
	if err != nil {
		if err == identity.ErrInvalidConnection {
			helpers.RespondError(w, http.StatusUnprocessableEntity, "connection scope/tenant_id mismatch")
			return
		}
		slog.Warn("create connection: failed", "name", req.Name, "error", err)
		helpers.RespondError(w, http.StatusConflict, "unable to create connection")
		return
	}
	s.Audit.Log(r.Context(), audit.Event{Type: "connection.created", Category: audit.CategoryAdmin, TenantID: tenantID,
		Description: "connection " + conn.Name + " created"})
	helpers.RespondJSON(w, http.StatusCreated, conn)
}

// ListConnections serves GET /api/v1/admin/tenants/{tenantID}/connections.
func (s *Server) ListConnections(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	conns, err := s.Identity.ListConnections(r.Context(), tenantID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list connections")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

// SetConnectionEnabled serves PATCH /api/v1/admin/connections/{connectionID}.
func (s *Server) SetConnectionEnabled(w http.ResponseWriter, r *http.Request) {
	connID, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	var req setEnabledRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Identity.SetConnectionEnabled(r.Context(), connID, req.Enabled); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to update connection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createFgaStoreRequest struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

// CreateFgaStore serves POST /api/v1/admin/fga/stores, provisioning an
// empty store a tenant writes its first authorization model into.
func (s *Server) CreateFgaStore(w http.ResponseWriter, r *http.Request) {
	var req createFgaStoreRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Name == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant_id")
		return
	}
	fgaStore, err := s.DB.CreateFgaStore(r.Context(), uuid.New(), tenantID, req.Name)
	if err != nil {
		slog.Warn("create fga store: failed", "tenant_id", tenantID, "error", err)
		helpers.RespondError(w, http.StatusConflict, "unable to create store")
		return
	}
	s.Audit.Log(r.Context(), audit.Event{Type: "fga.store.created", Category: audit.CategoryAdmin, TenantID: &tenantID,
		Description: "authorization store " + fgaStore.Name + " created"})
	helpers.RespondJSON(w, http.StatusCreated, fgaStore)
}
