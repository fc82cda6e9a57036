package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/lavente-care/ciam/internal/api"
	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/authn"
	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/federation"
	"github.com/lavente-care/ciam/internal/fga"
	"github.com/lavente-care/ciam/internal/identity"
	"github.com/lavente-care/ciam/internal/keymanager"
	"github.com/lavente-care/ciam/internal/lockout"
	"github.com/lavente-care/ciam/internal/mfa"
	"github.com/lavente-care/ciam/internal/notify"
	"github.com/lavente-care/ciam/internal/oauthserver"
	"github.com/lavente-care/ciam/internal/passwordhash"
	"github.com/lavente-care/ciam/internal/ratelimit"
	"github.com/lavente-care/ciam/internal/sealedbox"
	"github.com/lavente-care/ciam/internal/session"
	"github.com/lavente-care/ciam/internal/store"
	"github.com/lavente-care/ciam/internal/tokencodec"
	"github.com/lavente-care/ciam/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Mask errors: in production these files won't exist and we rely on
	// system env vars instead.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.Setup(cfg.AppEnv)
	log.Info("application_startup", "env", cfg.AppEnv)

	if sentryDSN := os.Getenv("SENTRY_DSN"); sentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			TracesSampleRate: 1.0,
			Environment:      cfg.AppEnv,
		}); err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	ctx := context.Background()
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Error("database_url_parse_failed", "error", err)
		os.Exit(1)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Error("database_pool_create_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database_ping_failed", "error", err)
		os.Exit(1)
	}
	log.Info("database_connected")

	db := store.New(pool)

	if cfg.SealKeyHex == "" {
		if cfg.AppEnv == "production" {
			log.Error("seal_master_key_missing", "details", "fatal_in_production")
			os.Exit(1)
		}
		log.Warn("seal_master_key_missing", "details", "dev_mode_using_fixed_key")
		cfg.SealKeyHex = "00000000000000000000000000000000000000000000000000000000000000aa"
	}
	box, err := sealedbox.New(cfg.SealKeyHex)
	if err != nil {
		log.Error("sealedbox_init_failed", "error", err)
		os.Exit(1)
	}

	keys := keymanager.New(db, box, 24*time.Hour)
	if err := keys.Bootstrap(ctx); err != nil {
		log.Error("keymanager_bootstrap_failed", "error", err)
		os.Exit(1)
	}
	log.Info("signing_keys_ready")

	tokens := tokencodec.New(keys, cfg.Issuer, cfg.Issuer)
	hasher := passwordhash.New(passwordhash.DefaultParams)
	tenants := identity.New(db, hasher)
	sessions := session.New(db, cfg.SessionAbsoluteTTL, cfg.SessionIdleTTL)
	lockouts := lockout.New(db, cfg.LockoutThreshold, cfg.LockoutDuration)
	mfaSvc := mfa.New(cfg.Issuer)
	auditLogger := audit.NewDBLogger(db, log)
	mailer := notify.NewOutboxMailer(db, log)

	var limiter ratelimit.Limiter
	localRules := make(map[string]ratelimit.Rule, len(cfg.RateLimits))
	for category, rule := range cfg.RateLimits {
		localRules[category] = ratelimit.Rule{RPM: rule.RPM, Burst: rule.Burst}
	}
	fallbackRule := ratelimit.Rule{RPM: 60, Burst: 10}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("redis_url_parse_failed", "error", err)
			os.Exit(1)
		}
		limiter = ratelimit.NewRedis(redis.NewClient(opt), localRules, fallbackRule)
		log.Info("rate_limiter_backend", "backend", "redis")
	} else {
		limiter = ratelimit.NewLocal(localRules, fallbackRule)
		log.Info("rate_limiter_backend", "backend", "local")
	}

	fgaEngine := fga.NewEngine(db, cfg.FGACacheSize, cfg.FGACheckDepthCap)
	federationMgr := federation.New()

	authnSvc := authn.New(authn.Deps{
		DB:       db,
		Tenants:  tenants,
		Hasher:   hasher,
		MFA:      mfaSvc,
		Lockouts: lockouts,
		Sessions: sessions,
		Tokens:   tokens,
		Audit:    auditLogger,
		Mail:     mailer,
		Config:   cfg,
	})

	oauthSvc := oauthserver.New(oauthserver.Deps{
		DB:        db,
		Sessions:  sessions,
		Tokens:    tokens,
		Hasher:    hasher,
		Audit:     auditLogger,
		Issuer:    cfg.Issuer,
		AccessTTL: cfg.AccessTokenTTLDefault,
		IDTTL:     cfg.IDTokenTTLDefault,
	})

	server := api.NewServer(&api.Server{
		Pool:       pool,
		DB:         db,
		Logger:     log,
		Config:     cfg,
		Identity:   tenants,
		Keys:       keys,
		Tokens:     tokens,
		Sessions:   sessions,
		Authn:      authnSvc,
		OAuth:      oauthSvc,
		FGA:        fgaEngine,
		Audit:      auditLogger,
		Mail:       mailer,
		Limiter:    limiter,
		Federation: federationMgr,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      server.Router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}

		pool.Close()
		log.Info("server_shutdown_complete")
	}
}
