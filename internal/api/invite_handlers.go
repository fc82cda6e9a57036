package api

import (
	"log/slog"
	"net/http"

	"github.com/lavente-care/ciam/internal/api/helpers"
	customMiddleware "github.com/lavente-care/ciam/internal/api/middleware"
	"github.com/lavente-care/ciam/internal/authn"
)

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Invite serves POST /api/v1/invitations, sending a tenant-membership
// invitation to the caller's current tenant.
func (s *Server) Invite(w http.ResponseWriter, r *http.Request) {
	tenantID, err := customMiddleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "tenant context required")
		return
	}
	var req inviteRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}
	inv, err := s.Authn.Invite(r.Context(), tenantID, req.Email, req.Role)
	if err != nil {
		slog.Warn("invite: failed", "tenant_id", tenantID, "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "unable to send invitation")
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, map[string]any{"id": inv.ID, "email": inv.Email, "role": inv.Role})
}

type acceptInvitationRequest struct {
	Token    string `json:"token"`
	Password string `json:"password,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// AcceptInvitation serves POST /api/v1/invitations/accept. When the invited
// address has never registered, Password/FullName create the account in
// the same step; an existing account ignores them.
func (s *Server) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ip := helpers.GetRealIP(r).String()
	result, err := s.Authn.AcceptInvitation(r.Context(), authn.AcceptInvitationInput{
		Token: req.Token, Password: req.Password, FullName: req.FullName,
	}, ip, r.UserAgent())
	if err != nil {
		slog.Warn("accept invitation: failed", "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "invalid or expired invitation")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResponse(result))
}
