package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente-care/ciam/internal/storage"
)

// txContextKey is distinct from contextKey so a handler reaching for the
// RLS-scoped transaction can't be confused with request-identity values.
type txContextKey string

const TxKey txContextKey = "tenant_tx"

// GetTx extracts the RLS-scoped transaction TenantContext opened for this
// request, if any. Handlers that only read through internal/store's normal
// pool-backed Queries never need this; it exists for code that wants the
// same transaction TenantContext is about to commit or roll back.
func GetTx(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(TxKey).(pgx.Tx)
	return tx, ok
}

// TenantContext wraps the request in an internal/storage RLS transaction
// when an X-Tenant-ID header is present, setting app.current_tenant for the
// duration of the handler and committing or rolling back based on the
// response status.
func TenantContext(pool *pgxpool.Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantIDStr := r.Header.Get("X-Tenant-ID")
			if tenantIDStr == "" {
				next.ServeHTTP(w, r)
				return
			}

			tenantID, err := uuid.Parse(tenantIDStr)
			if err != nil {
				slog.Warn("invalid X-Tenant-ID header", "value", tenantIDStr, "ip", r.RemoteAddr)
				http.Error(w, "Invalid Tenant ID", http.StatusBadRequest)
				return
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, tenantID)
			SetSentryTenant(ctx, tenantID.String(), "header-provided")

			err = storage.WithTenantContext(ctx, pool, tenantID, func(tx pgx.Tx) error {
				ctxWithTx := context.WithValue(ctx, TxKey, tx)
				rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
				next.ServeHTTP(rw, r.WithContext(ctxWithTx))
				if rw.statusCode >= 400 {
					return http.ErrAbortHandler
				}
				return nil
			})

			if err != nil && err != http.ErrAbortHandler {
				slog.Error("RLS transaction failed", "error", err, "tenant_id", tenantID)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code so
// TenantContext can decide whether to commit or roll back.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
