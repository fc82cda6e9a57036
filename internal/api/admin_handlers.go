package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/api/helpers"
	customMiddleware "github.com/lavente-care/ciam/internal/api/middleware"
	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/store"
)

type createTenantRequest struct {
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	AccountType   string `json:"account_type"`
	IsolationMode string `json:"isolation_mode"`
	ParentID      string `json:"parent_id,omitempty"`
}

// CreateTenant serves POST /api/v1/admin/tenants, platform-admin-only.
// Onboards a root tenant, or a sub-organization when parent_id is set
// (the hierarchy is capped at two levels).
func (s *Server) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	accountType := store.AccountType(req.AccountType)
	if accountType == "" {
		accountType = store.AccountTypeBusiness
	}
	isolation := store.IsolationMode(req.IsolationMode)
	if isolation == "" {
		isolation = store.IsolationShared
	}

	var (
		tenant store.Tenant
		err    error
	)
	if req.ParentID != "" {
		parentID, perr := uuid.Parse(req.ParentID)
		if perr != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid parent_id")
			return
		}
		tenant, err = s.Identity.CreateChildTenant(r.Context(), parentID, req.Slug, req.Name, accountType, isolation)
	} else {
		tenant, err = s.Identity.CreateRootTenant(r.Context(), req.Slug, req.Name, accountType, isolation)
	}
	if err != nil {
		slog.Warn("create tenant: failed", "slug", req.Slug, "error", err)
		helpers.RespondError(w, http.StatusConflict, "unable to create tenant")
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, tenant)
}

// DeleteTenant serves DELETE /api/v1/admin/tenants/{tenantID}, rejecting
// tenants that still have sub-organizations.
func (s *Server) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if err := s.Identity.DeleteTenant(r.Context(), tenantID); err != nil {
		slog.Warn("delete tenant: failed", "tenant_id", tenantID, "error", err)
		helpers.RespondError(w, http.StatusConflict, "tenant has sub-organizations or could not be deleted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers serves GET /api/v1/admin/tenants/{tenantID}/members.
func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	members, err := s.DB.ListTenantMembers(r.Context(), tenantID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"members": members})
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateRole serves PATCH /api/v1/admin/tenants/{tenantID}/members/{userID}.
func (s *Server) UpdateRole(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req updateRoleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Role == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.DB.UpdateMemberRole(r.Context(), tenantID, userID, req.Role); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to update role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveUser serves DELETE /api/v1/admin/tenants/{tenantID}/members/{userID}.
func (s *Server) RemoveUser(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.DB.RemoveMember(r.Context(), tenantID, userID); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type banUserRequest struct {
	Reason    string `json:"reason"`
	ExpiresAt string `json:"expires_at,omitempty"` // RFC 3339; empty means until revoked
}

// BanUser serves POST /api/v1/admin/users/{userID}/ban. Banning also burns
// every live session and refresh token the account holds.
func (s *Server) BanUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req banUserRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid expires_at")
			return
		}
		expiresAt = &parsed
	}

	var bannedBy *uuid.UUID
	if adminID, err := customMiddleware.GetUserID(r.Context()); err == nil {
		bannedBy = &adminID
	}

	ban, err := s.DB.CreateUserBan(r.Context(), userID, req.Reason, bannedBy, expiresAt)
	if err != nil {
		slog.Warn("ban user: failed", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "failed to ban user")
		return
	}
	if err := s.Sessions.RevokeAllForUser(r.Context(), userID); err != nil {
		slog.Warn("ban user: revoking sessions failed", "user_id", userID, "error", err)
	}
	s.Audit.Log(r.Context(), audit.Event{Type: "user.banned", Category: audit.CategorySecurity, UserID: &userID,
		Description: "account banned: " + req.Reason})
	helpers.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":         ban.ID,
		"user_id":    ban.UserID,
		"reason":     ban.Reason,
		"expires_at": ban.ExpiresAt,
	})
}

// UnbanUser serves DELETE /api/v1/admin/users/{userID}/ban.
func (s *Server) UnbanUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.DB.RevokeUserBans(r.Context(), userID); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to revoke bans")
		return
	}
	s.Audit.Log(r.Context(), audit.Event{Type: "user.unbanned", Category: audit.CategorySecurity, UserID: &userID})
	w.WriteHeader(http.StatusNoContent)
}

// UnlockUser serves POST /api/v1/admin/users/{userID}/unlock, releasing an
// active brute-force lockout without waiting out its horizon.
func (s *Server) UnlockUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.DB.ReleaseLockouts(r.Context(), userID); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to release lockouts")
		return
	}
	s.Audit.Log(r.Context(), audit.Event{Type: "user.lockout_released", Category: audit.CategorySecurity, UserID: &userID})
	w.WriteHeader(http.StatusNoContent)
}

// GetTenantInfo serves GET /api/v1/tenants/{slug}, a minimal unauthenticated
// lookup applications use to resolve a tenant slug before login (branding,
// account_type) without leaking membership data.
func (s *Server) GetTenantInfo(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	tenant, err := s.Identity.GetTenantBySlug(r.Context(), slug)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "tenant not found")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"id":              tenant.ID,
		"slug":            tenant.Slug,
		"name":            tenant.Name,
		"account_type":    tenant.AccountType,
		"hierarchy_level": tenant.HierarchyLevel,
	})
}
