package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lavente-care/ciam/internal/store"
)

// CorsConfigProvider resolves the tenant record whose Settings carry the
// tenant's allowed_origins list.
type CorsConfigProvider interface {
	GetTenantByID(ctx context.Context, id uuid.UUID) (store.Tenant, error)
}

type tenantSettings struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// DynamicCorsMiddleware enforces tenant-specific CORS policies.
// It assumes TenantContext middleware has already run and populated a possible TenantID.
// For Preflight (OPTIONS), it reflects the Origin to allow the browser to send the actual request.
func DynamicCorsMiddleware(q CorsConfigProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID, X-Requested-With")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.WriteHeader(http.StatusOK)
				return
			}

			tenantID, err := GetTenantID(r.Context())
			if err != nil {
				// No tenant resolved: nothing to validate the origin against,
				// so proceed without setting CORS headers — browsers will
				// block the response from being read cross-origin.
				next.ServeHTTP(w, r)
				return
			}

			isLocalDev := origin == "http://localhost:4321" || origin == "http://localhost:3000"

			tenant, err := q.GetTenantByID(r.Context(), tenantID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					slog.Warn("cors: tenant not found", "tenant_id", tenantID)
					http.Error(w, "Invalid Tenant", http.StatusForbidden)
					return
				}
				slog.Error("cors: tenant lookup failed", "error", err)
				http.Error(w, "Internal Error", http.StatusInternalServerError)
				return
			}

			var settings tenantSettings
			if len(tenant.Settings) > 0 {
				if err := json.Unmarshal(tenant.Settings, &settings); err != nil {
					slog.Warn("cors: malformed tenant settings", "tenant_id", tenantID, "error", err)
				}
			}

			if isLocalDev || slices.Contains(settings.AllowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			} else {
				slog.Warn("cors: origin rejected", "tenant_id", tenantID, "origin", origin)
				http.Error(w, "CORS Policy Violation", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
