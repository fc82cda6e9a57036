package api

import (
	"log/slog"
	"net/http"

	"github.com/lavente-care/ciam/internal/api/helpers"
)

type requestPasswordResetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset serves POST /api/v1/auth/password/forgot. It always
// returns 202 regardless of whether the address has an account — the
// enumeration posture is enforced inside internal/authn, not here.
func (s *Server) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req requestPasswordResetRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Authn.RequestPasswordReset(r.Context(), req.Email); err != nil {
		slog.Error("request password reset: failed", "error", err)
	}
	w.WriteHeader(http.StatusAccepted)
}

type completePasswordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// CompletePasswordReset serves POST /api/v1/auth/password/reset.
func (s *Server) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req completePasswordResetRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Authn.CompletePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		slog.Warn("complete password reset: failed", "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type requestMagicLinkRequest struct {
	Email string `json:"email"`
}

// RequestMagicLink serves POST /api/v1/auth/magic-link.
func (s *Server) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req requestMagicLinkRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Authn.RequestMagicLink(r.Context(), req.Email); err != nil {
		slog.Error("request magic link: failed", "error", err)
	}
	w.WriteHeader(http.StatusAccepted)
}

type completeMagicLinkRequest struct {
	Token string `json:"token"`
}

// CompleteMagicLink serves POST /api/v1/auth/magic-link/complete.
func (s *Server) CompleteMagicLink(w http.ResponseWriter, r *http.Request) {
	var req completeMagicLinkRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ip := helpers.GetRealIP(r).String()
	result, err := s.Authn.CompleteMagicLink(r.Context(), req.Token, ip, r.UserAgent())
	if err != nil {
		slog.Warn("complete magic link: failed", "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResponse(result))
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

// VerifyEmail serves POST /api/v1/auth/verify-email.
func (s *Server) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Authn.VerifyEmail(r.Context(), req.Token); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
