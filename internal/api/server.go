package api

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/authn"
	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/federation"
	"github.com/lavente-care/ciam/internal/fga"
	"github.com/lavente-care/ciam/internal/identity"
	"github.com/lavente-care/ciam/internal/keymanager"
	"github.com/lavente-care/ciam/internal/notify"
	"github.com/lavente-care/ciam/internal/oauthserver"
	"github.com/lavente-care/ciam/internal/ratelimit"
	"github.com/lavente-care/ciam/internal/session"
	"github.com/lavente-care/ciam/internal/store"
	"github.com/lavente-care/ciam/internal/tokencodec"

	"github.com/go-chi/chi/v5"
)

// Server bundles every component the HTTP layer dispatches into; handlers
// hang off it so wiring happens once in cmd/api.
type Server struct {
	Router *chi.Mux
	Pool   *pgxpool.Pool
	DB     *store.Queries
	Logger *slog.Logger

	Config config.Config

	Identity   *identity.Repository
	Keys       *keymanager.Manager
	Tokens     *tokencodec.Codec
	Sessions   *session.Service
	Authn      *authn.Service
	OAuth      *oauthserver.Service
	FGA        *fga.Engine
	Audit      audit.Logger
	Mail       notify.EmailSender
	Limiter    ratelimit.Limiter
	Federation *federation.Manager
}
