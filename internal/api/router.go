package api

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	customMiddleware "github.com/lavente-care/ciam/internal/api/middleware"
)

// NewServer wires every handler onto the chi router: request ID, Sentry,
// logger, recovery, RLS tenant context, CORS, then the route groups with
// their per-category rate limits.
func NewServer(s *Server) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)
	r.Use(customMiddleware.TenantContext(s.Pool))
	r.Use(customMiddleware.DynamicCorsMiddleware(s.DB))

	requireAuth := customMiddleware.AuthMiddleware(s.Tokens)
	apiRateLimit := customMiddleware.RateLimit(s.Limiter, "api")

	r.Get("/health", s.HealthHandler())

	// OIDC/OAuth2 discovery and token surface, unauthenticated by
	// definition — clients present their own credentials in the body.
	r.Get("/.well-known/openid-configuration", s.DiscoveryDocument)
	r.Get("/.well-known/jwks.json", s.JWKSDocument)
	r.Get("/authorize", s.Authorize)
	r.With(requireAuth).Get("/userinfo", s.UserInfo)
	r.Group(func(r chi.Router) {
		r.Use(apiRateLimit)
		r.Post("/oauth/token", s.Token)
		r.Post("/oauth/introspect", s.Introspect)
		r.Post("/oauth/revoke", s.Revoke)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// --- Public, rate-limited auth endpoints ---
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.RateLimit(s.Limiter, "register"))
			r.Post("/auth/register", s.Register)
		})
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.RateLimit(s.Limiter, "login"))
			r.Post("/auth/login", s.Login)
			r.Post("/auth/login-hierarchical", s.LoginHierarchical)
			r.Post("/auth/mfa/verify", s.VerifyMFA)
			r.Post("/auth/mfa/backup", s.VerifyBackupCode)
		})
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.RateLimit(s.Limiter, "passwordless"))
			r.Post("/auth/password/forgot", s.RequestPasswordReset)
			r.Post("/auth/password/reset", s.CompletePasswordReset)
			r.Post("/auth/magic-link", s.RequestMagicLink)
			r.Post("/auth/magic-link/complete", s.CompleteMagicLink)
			r.Post("/auth/verify-email", s.VerifyEmail)
			r.Post("/invitations/accept", s.AcceptInvitation)
		})
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.RateLimit(s.Limiter, "passwordless"))
			r.Get("/federation/{connectionID}/start", s.FederationStart)
			r.Get("/federation/callback", s.FederationCallback)
		})

		r.Post("/auth/logout", s.Logout)
		r.Get("/tenants/{slug}", s.GetTenantInfo)

		// --- Protected (bearer access token required) ---
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(customMiddleware.CSRFMiddleware)

			r.Get("/me", s.Me)
			r.Patch("/me", s.UpdateProfile)
			r.Put("/auth/security/password", s.ChangePassword)
			r.Post("/auth/account/email/change", s.RequestEmailChange)
			r.Post("/auth/account/email/confirm", s.ConfirmEmailChange)

			r.Get("/auth/sessions", s.GetSessions)
			r.Delete("/auth/sessions/{id}", s.RevokeSession)

			r.Post("/auth/mfa/enroll/totp", s.EnrollTOTP)
			r.Post("/auth/mfa/activate/totp", s.ActivateTOTP)
			r.Post("/auth/mfa/backup-codes", s.GenerateBackupCodes)
			r.Delete("/auth/mfa", s.DisableMFA)

			r.Get("/oauth/userinfo", s.UserInfo)

			// FGA API. Check/Expand/ListObjects answer questions
			// about access the caller already has visibility into; only
			// mutating the tuple graph or the schema requires "admin" on
			// the store itself.
			r.Route("/fga/stores/{storeID}", func(r chi.Router) {
				r.Post("/check", s.FGACheck)
				r.Post("/expand", s.FGAExpand)
				r.Post("/list-objects", s.FGAListObjects)

				r.Group(func(r chi.Router) {
					r.Use(customMiddleware.RequirePermission(s.FGA, s.DB, "store", "admin", storeIDParam))
					r.Post("/tuples", s.FGAWriteTuple)
					r.Delete("/tuples", s.FGADeleteTuple)
					r.Get("/tuples", s.FGAListTuples)
					r.Post("/models", s.FGACreateModel)
					r.Get("/models/current", s.FGACurrentModel)
				})
			})

			r.Post("/invitations", s.Invite)
			r.Get("/audit-logs", s.ListAuditLogs)

			r.Route("/admin", func(r chi.Router) {
				r.Use(customMiddleware.RequirePlatformAdmin)

				r.Post("/tenants", s.CreateTenant)
				r.Get("/tenants/{tenantID}/members", s.ListUsers)
				r.Patch("/tenants/{tenantID}/members/{userID}", s.UpdateRole)
				r.Delete("/tenants/{tenantID}/members/{userID}", s.RemoveUser)
				r.Delete("/tenants/{tenantID}", s.DeleteTenant)
				r.Get("/tenants/{tenantID}/connections", s.ListConnections)

				r.Post("/applications", s.CreateApplication)
				r.Get("/applications", s.ListApplications)
				r.Post("/applications/{appID}/rotate-secret", s.RotateApplicationSecret)
				r.Patch("/applications/{appID}", s.SetApplicationEnabled)

				r.Post("/connections", s.CreateConnection)
				r.Patch("/connections/{connectionID}", s.SetConnectionEnabled)

				r.Post("/fga/stores", s.CreateFgaStore)

				r.Post("/users/{userID}/ban", s.BanUser)
				r.Delete("/users/{userID}/ban", s.UnbanUser)
				r.Post("/users/{userID}/unlock", s.UnlockUser)
			})
		})
	})

	s.Router = r
	return s
}

func storeIDParam(r *http.Request) string {
	return chi.URLParam(r, "storeID")
}
