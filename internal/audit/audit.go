package audit

import (
	"context"
	"log/slog"
	"os"
)

// StdoutLogger writes structured audit events to stdout with a fixed
// "log_type":"AUDIT_TRAIL" marker so log aggregators can route them to a
// separate index.
type StdoutLogger struct {
	logger *slog.Logger
}

func NewStdoutLogger() *StdoutLogger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &StdoutLogger{logger: slog.New(handler)}
}

func (l *StdoutLogger) Log(ctx context.Context, event Event) {
	fields := []any{
		slog.String("log_type", "AUDIT_TRAIL"),
		slog.String("event_type", event.Type),
		slog.String("category", string(event.Category)),
		slog.String("description", event.Description),
	}
	if event.UserID != nil {
		fields = append(fields, slog.String("user_id", event.UserID.String()))
	}
	if event.TenantID != nil {
		fields = append(fields, slog.String("tenant_id", event.TenantID.String()))
	}
	l.logger.InfoContext(ctx, "audit_event", fields...)
}
