package middleware

import (
	"log/slog"
	"net/http"

	"github.com/lavente-care/ciam/internal/ratelimit"
)

// RateLimit enforces a named rule (e.g. "login", "register", "api") from
// internal/ratelimit against the caller's remote address, so each route
// group carries its own budget.
func RateLimit(limiter ratelimit.Limiter, category string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			allowed, err := limiter.Allow(r.Context(), category, ip)
			if err != nil {
				slog.Error("rate limit check failed", "error", err, "category", category)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				slog.Warn("rate limit exceeded", "ip", ip, "category", category, "path", r.URL.Path)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
