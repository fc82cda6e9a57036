package api

import (
	"net/http"
	"strconv"

	"github.com/lavente-care/ciam/internal/api/helpers"
	customMiddleware "github.com/lavente-care/ciam/internal/api/middleware"
)

const defaultAuditLogLimit = 50

// ListAuditLogs serves GET /api/v1/audit-logs, returning the caller's
// tenant's audit trail newest-first. The `limit` query parameter
// caps the page size; a request with no tenant context (platform admins
// outside any tenant included) gets a 400 rather than every tenant's logs,
// since this route isn't tenant-scope-escalation surface.
func (s *Server) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	tenantID, err := customMiddleware.GetTenantID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "tenant context required")
		return
	}

	limit := defaultAuditLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	logs, err := s.DB.ListAuditLogsForTenant(r.Context(), tenantID, limit)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list audit logs")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
