// Package audit records immutable security events under the event_type/
// category split the month-partitioned audit_logs table uses, with an
// outbox fallback when the direct write fails.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/store"
)

// Category enumerates the fixed audit taxonomy compliance filters key on.
type Category string

const (
	CategoryAuthentication  Category = "authentication"
	CategoryAuthorization   Category = "authorization"
	CategoryUserManagement  Category = "user_management"
	CategoryTenantManagement Category = "tenant_management"
	CategorySecurity        Category = "security"
	CategoryAdmin           Category = "admin"
	CategorySystem          Category = "system"
)

// Event is one occurrence to record.
type Event struct {
	Type        string
	Category    Category
	Description string
	TenantID    *uuid.UUID
	SubTenantID *uuid.UUID
	UserID      *uuid.UUID
	IP          string
	UserAgent   string
	Metadata    map[string]any
}

// Logger is the contract internal/authn, internal/oauthserver, and internal/fga
// log through. Implementations never return an error — a failed audit
// write degrades to the outbox or to process logs, it never fails the
// caller's request.
type Logger interface {
	Log(ctx context.Context, event Event)
}

type auditStore interface {
	CreateAuditLog(ctx context.Context, p store.CreateAuditLogParams) error
	EnqueueOutboxEvent(ctx context.Context, id uuid.UUID, topic string, payload []byte) error
}

// DBLogger writes directly to audit_logs when called inside the caller's
// own transaction (same-transaction durability — a login and its audit row
// commit or roll back together). If the direct write errors, it falls back
// to the outbox table for cmd/worker to drain rather than losing the event.
type DBLogger struct {
	db     auditStore
	logger *slog.Logger
}

func NewDBLogger(db auditStore, logger *slog.Logger) *DBLogger {
	return &DBLogger{db: db, logger: logger}
}

func (d *DBLogger) Log(ctx context.Context, event Event) {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		d.logger.Error("audit_metadata_marshal_failed", "error", err)
		metadata = []byte("{}")
	}

	p := store.CreateAuditLogParams{
		ID:          uuid.New(),
		TenantID:    event.TenantID,
		SubTenantID: event.SubTenantID,
		UserID:      event.UserID,
		EventType:   event.Type,
		Category:    string(event.Category),
		Description: event.Description,
		Metadata:    metadata,
		IP:          event.IP,
		UserAgent:   event.UserAgent,
	}

	if err := d.db.CreateAuditLog(ctx, p); err != nil {
		d.logger.Warn("audit_direct_write_failed_falling_back_to_outbox", "event_type", event.Type, "error", err)
		payload, marshalErr := json.Marshal(p)
		if marshalErr != nil {
			d.logger.Error("audit_outbox_marshal_failed", "event_type", event.Type, "error", marshalErr)
			return
		}
		if err := d.db.EnqueueOutboxEvent(ctx, uuid.New(), "audit.log", payload); err != nil {
			d.logger.Error("audit_outbox_enqueue_failed", "event_type", event.Type, "error", err)
		}
	}
}

// NoopLogger discards events; useful in tests that don't exercise audit
// assertions.
type NoopLogger struct{}

func (NoopLogger) Log(context.Context, Event) {}
