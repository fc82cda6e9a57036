// Command worker runs the hourly janitor sweep (expired refresh tokens,
// invitations, verification tokens, MFA challenges) plus the "audit."
// outbox drain that delivers audit events internal/audit.DBLogger
// couldn't write directly.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	db := store.New(pool)
	logger.Info("worker started", "janitor_interval", "1h", "outbox_poll_interval", "10s")

	janitorTicker := time.NewTicker(1 * time.Hour)
	defer janitorTicker.Stop()
	outboxTicker := time.NewTicker(10 * time.Second)
	defer outboxTicker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	runJanitor(context.Background(), db, logger)

	for {
		select {
		case <-janitorTicker.C:
			runJanitor(context.Background(), db, logger)
		case <-outboxTicker.C:
			drainAuditOutbox(context.Background(), db, logger)
		case <-quit:
			logger.Info("worker shutting down")
			return
		}
	}
}

func runJanitor(ctx context.Context, q *store.Queries, logger *slog.Logger) {
	logger.Info("running cleanup cycle")

	if count, err := q.CleanExpiredRefreshTokens(ctx); err != nil {
		logger.Error("failed to clean refresh_tokens", "error", err)
	} else if count > 0 {
		logger.Info("cleaned refresh_tokens", "deleted", count)
	}

	if count, err := q.CleanExpiredInvitations(ctx); err != nil {
		logger.Error("failed to clean invitations", "error", err)
	} else if count > 0 {
		logger.Info("cleaned invitations", "deleted", count)
	}

	if count, err := q.CleanExpiredVerificationTokens(ctx); err != nil {
		logger.Error("failed to clean verification_tokens", "error", err)
	} else if count > 0 {
		logger.Info("cleaned verification_tokens", "deleted", count)
	}

	if count, err := q.CleanExpiredMfaChallenges(ctx); err != nil {
		logger.Error("failed to clean mfa_challenges", "error", err)
	} else if count > 0 {
		logger.Info("cleaned mfa_challenges", "deleted", count)
	}

	if count, err := q.CleanExpiredAuthorizationCodes(ctx); err != nil {
		logger.Error("failed to clean authorization_codes", "error", err)
	} else if count > 0 {
		logger.Info("cleaned authorization_codes", "deleted", count)
	}

	if count, err := q.CleanOldLoginAttempts(ctx); err != nil {
		logger.Error("failed to clean login_attempts", "error", err)
	} else if count > 0 {
		logger.Info("cleaned login_attempts", "deleted", count)
	}

	if err := q.EnsureAuditLogPartition(ctx, time.Now()); err != nil {
		logger.Error("failed to ensure current audit_logs partition", "error", err)
	}
	if err := q.EnsureAuditLogPartition(ctx, time.Now().AddDate(0, 1, 0)); err != nil {
		logger.Error("failed to ensure next audit_logs partition", "error", err)
	}
}

const maxAuditOutboxAttempts = 10

// drainAuditOutbox delivers audit events that internal/audit.DBLogger
// couldn't write directly (e.g. the caller's transaction had already
// failed) by retrying the same insert outside any transaction.
func drainAuditOutbox(ctx context.Context, q *store.Queries, logger *slog.Logger) {
	events, err := q.ClaimOutboxBatch(ctx, "audit.", 50)
	if err != nil {
		logger.Error("audit outbox claim failed", "error", err)
		return
	}
	for _, event := range events {
		if err := q.ReplayAuditOutboxEvent(ctx, event.Payload); err != nil {
			logger.Error("audit outbox replay failed", "event_id", event.ID, "attempts", event.Attempts, "error", err)
			if event.Attempts+1 >= maxAuditOutboxAttempts {
				logger.Error("audit event permanently failed, giving up", "event_id", event.ID)
				_ = q.MarkOutboxDispatched(ctx, event.ID)
				continue
			}
			_ = q.IncrementOutboxAttempts(ctx, event.ID)
			continue
		}
		if err := q.MarkOutboxDispatched(ctx, event.ID); err != nil {
			logger.Error("failed to mark audit event dispatched", "event_id", event.ID, "error", err)
		}
	}
	if len(events) > 0 {
		logger.Info("drained audit outbox", "count", len(events))
	}
}
