package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/lavente-care/ciam/internal/api/helpers"
	customMiddleware "github.com/lavente-care/ciam/internal/api/middleware"
	"github.com/lavente-care/ciam/internal/authn"
	"github.com/lavente-care/ciam/internal/lockout"
)

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	TenantSlug string `json:"tenant_slug,omitempty"`
}

// Register serves POST /api/v1/auth/register.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		slog.Warn("register: invalid json", "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.Authn.Register(r.Context(), authn.RegisterInput{
		Email: req.Email, Password: req.Password, FullName: req.FullName, TenantSlug: req.TenantSlug,
	})
	if err != nil {
		// One generic message over the wire; the response never
		// distinguishes "weak password" from "email taken" from
		// "registration closed".
		slog.Warn("register: failed", "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "registration failed")
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, map[string]any{"id": user.ID, "email": user.Email})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login serves POST /api/v1/auth/login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		helpers.RespondError(w, http.StatusBadRequest, "email and password required")
		return
	}

	ip := helpers.GetRealIP(r).String()
	result, err := s.Authn.Login(r.Context(), req.Email, req.Password, ip, r.UserAgent())
	if err != nil {
		var locked *lockout.ErrLocked
		if errors.As(err, &locked) {
			helpers.RespondError(w, http.StatusTooManyRequests, "account temporarily locked")
			return
		}
		slog.Warn("login: failed attempt", "email", req.Email, "error", err)
		helpers.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResponse(result))
}

type hierarchicalLoginRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	OrganizationSlug string `json:"organization_slug"`
}

// LoginHierarchical serves POST /api/v1/auth/login-hierarchical: a login
// scoped to a named organization. A non-member gets the same login_failed
// body as a wrong password, so the endpoint can't enumerate memberships.
func (s *Server) LoginHierarchical(w http.ResponseWriter, r *http.Request) {
	var req hierarchicalLoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" || req.OrganizationSlug == "" {
		helpers.RespondError(w, http.StatusBadRequest, "email, password, and organization_slug required")
		return
	}

	ip := helpers.GetRealIP(r).String()
	result, err := s.Authn.LoginToTenant(r.Context(), req.OrganizationSlug, req.Email, req.Password, ip, r.UserAgent())
	if err != nil {
		var locked *lockout.ErrLocked
		switch {
		case errors.As(err, &locked):
			helpers.RespondError(w, http.StatusTooManyRequests, "account temporarily locked")
		case errors.Is(err, authn.ErrNotMember):
			helpers.RespondError(w, http.StatusUnauthorized, "login_failed")
		default:
			helpers.RespondError(w, http.StatusUnauthorized, "login_failed")
		}
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResponse(result))
}

// Logout serves POST /api/v1/auth/logout. It's deliberately tolerant of a
// missing/expired refresh token — calling it twice, or after the session
// already expired, still returns success.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = helpers.DecodeJSON(r, &body)
	if body.RefreshToken != "" {
		_ = s.OAuth.Revoke(r.Context(), "", "", body.RefreshToken, "refresh_token")
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword serves PUT /api/v1/auth/security/password.
func (s *Server) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req changePasswordRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Authn.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		slog.Warn("change password: failed", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "password change failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me serves GET /api/v1/me.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := s.DB.GetUserByID(r.Context(), userID)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "user not found")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"id":             user.ID,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"full_name":      derefOrEmpty(user.FullName),
		"mfa_enabled":    user.MFAEnabled,
		"default_tenant": user.DefaultTenantID,
		"platform_admin": user.IsPlatformAdmin,
	})
}

type updateProfileRequest struct {
	FullName string `json:"full_name"`
}

// UpdateProfile serves PATCH /api/v1/me.
func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req updateProfileRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var fullName *string
	if req.FullName != "" {
		fullName = &req.FullName
	}
	if err := s.DB.UpdateUserProfile(r.Context(), userID, fullName); err != nil {
		slog.Error("update profile: failed", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type requestEmailChangeRequest struct {
	NewEmail string `json:"new_email"`
}

// RequestEmailChange serves POST /api/v1/auth/account/email/change.
func (s *Server) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req requestEmailChangeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Authn.RequestEmailChange(r.Context(), userID, req.NewEmail); err != nil {
		slog.Warn("request email change: failed", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "unable to start email change")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type confirmEmailChangeRequest struct {
	Token string `json:"token"`
}

// ConfirmEmailChange serves POST /api/v1/auth/account/email/confirm.
func (s *Server) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req confirmEmailChangeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Authn.ConfirmEmailChange(r.Context(), req.Token); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loginResultJSON struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	MFARequired  bool   `json:"mfa_required,omitempty"`
	PreAuthToken string `json:"pre_auth_token,omitempty"`
	ChallengeID  string `json:"challenge_id,omitempty"`
}

func loginResponse(r authn.LoginResult) loginResultJSON {
	return loginResultJSON{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
		MFARequired:  r.MFARequired,
		PreAuthToken: r.PreAuthToken,
		ChallengeID:  r.ChallengeID,
	}
}
