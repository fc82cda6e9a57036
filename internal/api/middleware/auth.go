package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lavente-care/ciam/internal/tokencodec"
)

// AuthMiddleware validates the bearer access token on every protected
// request via internal/tokencodec's rotation-aware Codec.
func AuthMiddleware(codec *tokencodec.Codec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
				return
			}

			claims, err := codec.ValidateAccessToken(r.Context(), parts[1])
			if err != nil || claims.Scope != "access" {
				slog.Warn("invalid access token", "error", err, "ip", r.RemoteAddr)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			// Tenant context check: if X-Tenant-ID was already resolved by
			// TenantContext, the token's tid claim must match it exactly —
			// a token scoped to tenant A can never act inside tenant B's RLS
			// transaction.
			ctx := r.Context()
			if ctxTenantID, terr := GetTenantID(ctx); terr == nil {
				if claims.TenantID == nil || *claims.TenantID != ctxTenantID {
					slog.Warn("tenant mismatch", "token_tid", claims.TenantID, "header_tid", ctxTenantID)
					http.Error(w, "Token does not match requested tenant context", http.StatusForbidden)
					return
				}
			} else if claims.TenantID != nil {
				ctx = context.WithValue(ctx, TenantIDKey, *claims.TenantID)
				SetSentryTenant(ctx, claims.TenantID.String(), "token-derived")
			}

			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			ctx = context.WithValue(ctx, ClientIDKey, claims.ClientID)
			SetSentryUser(ctx, claims.UserID.String(), "", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
