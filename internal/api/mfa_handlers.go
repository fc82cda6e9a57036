package api

import (
	"encoding/base64"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/api/helpers"
	customMiddleware "github.com/lavente-care/ciam/internal/api/middleware"
)

type mfaCodeRequest struct {
	PreAuthToken   string `json:"pre_auth_token"`
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

// VerifyMFA serves POST /api/v1/auth/mfa/verify, completing a login that
// paused for a TOTP code.
func (s *Server) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaCodeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ip := helpers.GetRealIP(r).String()
	result, err := s.Authn.CompleteMFA(r.Context(), req.PreAuthToken, req.ChallengeToken, req.Code, ip, r.UserAgent())
	if err != nil {
		slog.Warn("mfa verify: failed", "error", err)
		helpers.RespondError(w, http.StatusUnauthorized, "invalid mfa code")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResponse(result))
}

// VerifyBackupCode serves POST /api/v1/auth/mfa/backup, the recovery path
// when the caller's authenticator is unavailable.
func (s *Server) VerifyBackupCode(w http.ResponseWriter, r *http.Request) {
	var req mfaCodeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ip := helpers.GetRealIP(r).String()
	result, err := s.Authn.CompleteMFABackupCode(r.Context(), req.PreAuthToken, req.ChallengeToken, req.Code, ip, r.UserAgent())
	if err != nil {
		slog.Warn("mfa backup code: failed", "error", err)
		helpers.RespondError(w, http.StatusUnauthorized, "invalid backup code")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResponse(result))
}

// EnrollTOTP serves POST /api/v1/auth/mfa/enroll/totp. The returned secret
// stays unverified — and mfa_enabled stays false — until ActivateTOTP
// confirms the caller's authenticator can produce a matching code.
func (s *Server) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
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
	enrollment, err := s.Authn.EnrollTOTP(r.Context(), userID, user.Email)
	if err != nil {
		slog.Error("enroll totp: failed", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "failed to enroll totp")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"method_id": enrollment.MethodID,
		"secret":    enrollment.Secret,
		"qr_code":   base64.StdEncoding.EncodeToString(enrollment.QRCodePNG),
	})
}

type activateTOTPRequest struct {
	MethodID string `json:"method_id"`
	Code     string `json:"code"`
}

// ActivateTOTP serves POST /api/v1/auth/mfa/activate/totp.
func (s *Server) ActivateTOTP(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req activateTOTPRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	methodID, err := uuid.Parse(req.MethodID)
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid method_id")
		return
	}
	if err := s.Authn.ActivateTOTP(r.Context(), userID, methodID, req.Code); err != nil {
		slog.Warn("activate totp: failed", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "invalid code")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateBackupCodes serves POST /api/v1/auth/mfa/backup-codes, replacing
// any existing backup codes with a fresh set returned in plaintext exactly
// once.
func (s *Server) GenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	codes, err := s.Authn.GenerateBackupCodes(r.Context(), userID, 10)
	if err != nil {
		slog.Error("generate backup codes: failed", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "failed to generate backup codes")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

// DisableMFA serves DELETE /api/v1/auth/mfa.
func (s *Server) DisableMFA(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.Authn.DisableMFA(r.Context(), userID); err != nil {
		slog.Error("disable mfa: failed", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "failed to disable mfa")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
