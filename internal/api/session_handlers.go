package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/api/helpers"
	customMiddleware "github.com/lavente-care/ciam/internal/api/middleware"
)

// GetSessions serves GET /api/v1/auth/sessions, listing the caller's own
// active login sessions.
func (s *Server) GetSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessions, err := s.Sessions.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("get sessions: failed", "user_id", userID, "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "failed to fetch sessions")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, sessions)
}

// RevokeSession serves DELETE /api/v1/auth/sessions/{id}.
func (s *Server) RevokeSession(w http.ResponseWriter, r *http.Request) {
	if _, err := customMiddleware.GetUserID(r.Context()); err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := s.Sessions.RevokeSession(r.Context(), sessionID); err != nil {
		slog.Error("revoke session: failed", "session_id", sessionID, "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "failed to revoke session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
