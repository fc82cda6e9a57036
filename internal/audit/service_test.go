package audit_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/ciam/internal/audit"
	"github.com/lavente-care/ciam/internal/store"
)

type fakeAuditStore struct {
	writes        []store.CreateAuditLogParams
	failWrite     bool
	outboxEnqueue []string
}

func (f *fakeAuditStore) CreateAuditLog(_ context.Context, p store.CreateAuditLogParams) error {
	if f.failWrite {
		return errors.New("db unavailable")
	}
	f.writes = append(f.writes, p)
	return nil
}

func (f *fakeAuditStore) EnqueueOutboxEvent(_ context.Context, _ uuid.UUID, topic string, _ []byte) error {
	f.outboxEnqueue = append(f.outboxEnqueue, topic)
	return nil
}

func TestDBLogger_WritesDirectlyOnSuccess(t *testing.T) {
	db := &fakeAuditStore{}
	logger := audit.NewDBLogger(db, slog.Default())

	userID := uuid.New()
	logger.Log(context.Background(), audit.Event{
		Type:     "auth.login.success",
		Category: audit.CategoryAuthentication,
		UserID:   &userID,
	})

	require.Len(t, db.writes, 1)
	assert.Equal(t, "auth.login.success", db.writes[0].EventType)
	assert.Empty(t, db.outboxEnqueue)
}

func TestDBLogger_FallsBackToOutboxWhenDirectWriteFails(t *testing.T) {
	db := &fakeAuditStore{failWrite: true}
	logger := audit.NewDBLogger(db, slog.Default())

	logger.Log(context.Background(), audit.Event{Type: "auth.login.success", Category: audit.CategoryAuthentication})

	assert.Empty(t, db.writes)
	require.Len(t, db.outboxEnqueue, 1)
	assert.Equal(t, "audit.log", db.outboxEnqueue[0])
}
