package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/api/helpers"
	"github.com/lavente-care/ciam/internal/authn"
	"github.com/lavente-care/ciam/internal/federation"
)

// FederationStart serves GET /api/v1/federation/{connectionID}/start,
// redirecting the caller to the upstream OIDC provider configured on that
// connection.
func (s *Server) FederationStart(w http.ResponseWriter, r *http.Request) {
	connID, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid connection id")
		return
	}

	conn, err := s.DB.GetConnectionByID(r.Context(), connID)
	if err != nil || !conn.IsEnabled {
		helpers.RespondError(w, http.StatusNotFound, "connection not found")
		return
	}

	callbackURL, err := federation.BuildCallbackURL(s.Config.Issuer)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "server_error")
		return
	}

	authURL, err := s.Federation.BeginAuth(r.Context(), conn, callbackURL)
	if err != nil {
		slog.Warn("federation start: failed", "connection_id", connID, "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "unable to start federated login")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// FederationCallback serves GET /api/v1/federation/callback, completing the
// authorization-code exchange, verifying the upstream ID token, and issuing
// a local session for the linked (or newly provisioned) account.
func (s *Server) FederationCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		helpers.RespondError(w, http.StatusBadRequest, "upstream provider returned: "+errParam)
		return
	}

	result, err := s.Federation.CompleteAuth(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		slog.Warn("federation callback: exchange failed", "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "federated login failed")
		return
	}

	ip := helpers.GetRealIP(r).String()
	login, err := s.Authn.CompleteFederatedLogin(r.Context(), result.ConnectionID, result.SubjectID, result.Email, result.FullName, result.EmailVerified, ip, r.UserAgent())
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, authn.ErrAccountDisabled) {
			status = http.StatusForbidden
		}
		slog.Warn("federation callback: login failed", "error", err)
		helpers.RespondError(w, status, "federated login failed")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, loginResponse(login))
}
