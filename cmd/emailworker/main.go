// Command emailworker drains the "email.*" outbox topics internal/notify
// enqueues and delivers them over SMTP. It retries a fixed number of times
// before giving up on a row, the same backoff-free "requeue until attempts
// run out" approach cmd/worker uses for other outbox consumers.
//
// Environment Variables:
//
//	DATABASE_URL            - PostgreSQL connection string
//	SMTP_HOST/PORT/USER/PASS/FROM/TLS_MODE - outbound mail relay
//	EMAIL_WORKER_INTERVAL   - poll interval (default: 5s)
//	EMAIL_WORKER_BATCH_SIZE - max rows per poll (default: 10)
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente-care/ciam/internal/config"
	"github.com/lavente-care/ciam/internal/mailer"
	"github.com/lavente-care/ciam/internal/notify"
	"github.com/lavente-care/ciam/internal/store"
)

const maxEmailAttempts = 5

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("email worker starting")

	cfg := config.Load()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	db := store.New(pool)

	var provider mailer.EmailProvider
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set, emails will only be logged")
		provider = devProvider{logger: logger}
	} else {
		provider, err = mailer.NewSMTPProvider(mailer.SMTPConfig{
			Host:    cfg.SMTPHost,
			Port:    cfg.SMTPPort,
			User:    cfg.SMTPUser,
			Pass:    cfg.SMTPPass,
			From:    cfg.SMTPFrom,
			TLSMode: cfg.SMTPTLSMode,
		})
		if err != nil {
			log.Fatalf("invalid SMTP configuration: %v", err)
		}
	}

	pollInterval := getEnvDuration("EMAIL_WORKER_INTERVAL", 5*time.Second)
	batchSize := getEnvInt("EMAIL_WORKER_BATCH_SIZE", 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, draining queue")
		cancel()
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	logger.Info("email worker polling", "interval", pollInterval, "batch_size", batchSize)

	for {
		select {
		case <-ctx.Done():
			logger.Info("email worker stopped")
			return
		case <-ticker.C:
			if err := drainBatch(ctx, db, provider, logger, batchSize); err != nil {
				logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

func drainBatch(ctx context.Context, db *store.Queries, provider mailer.EmailProvider, logger *slog.Logger, batchSize int) error {
	events, err := db.ClaimOutboxBatch(ctx, "email.", batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := deliver(sendCtx, db, provider, event)
		cancel()

		if err != nil {
			logger.Error("email delivery failed", "event_id", event.ID, "topic", event.Topic, "attempts", event.Attempts, "error", err)
			if event.Attempts+1 >= maxEmailAttempts {
				logger.Error("email permanently failed, giving up", "event_id", event.ID, "topic", event.Topic)
				_ = db.MarkOutboxDispatched(ctx, event.ID)
				continue
			}
			_ = db.IncrementOutboxAttempts(ctx, event.ID)
			continue
		}
		if err := db.MarkOutboxDispatched(ctx, event.ID); err != nil {
			logger.Error("failed to mark email dispatched", "event_id", event.ID, "error", err)
		}
	}
	if len(events) > 0 {
		logger.Info("processed email batch", "count", len(events))
	}
	return nil
}

func deliver(ctx context.Context, _ *store.Queries, provider mailer.EmailProvider, event store.OutboxEvent) error {
	var job notify.EmailJob
	if err := json.Unmarshal(event.Payload, &job); err != nil {
		return err
	}
	if !mailer.ValidTemplates[mailer.EmailTemplate(job.Template)] {
		return nil // drop silently; not a template we recognize
	}
	_, err := provider.Send(ctx, mailer.EmailPayload{
		To:        job.To,
		Template:  mailer.EmailTemplate(job.Template),
		Data:      job.Data,
		RequestID: event.ID.String(),
	})
	return err
}

// devProvider logs instead of sending, for development environments with
// no SMTP relay configured.
type devProvider struct {
	logger *slog.Logger
}

func (d devProvider) Send(_ context.Context, payload mailer.EmailPayload) (string, error) {
	d.logger.Info("email (dev mode, not sent)", "to", payload.To, "template", payload.Template, "data", payload.Data)
	return "dev-" + payload.RequestID, nil
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return dur
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
