package store

import (
	"context"

	"github.com/google/uuid"
)

// outbox.go is a topic-addressed dispatch table shared by email delivery
// and audit-event fallback; each consumer drains only its own topic prefix.

func (q *Queries) EnqueueOutboxEvent(ctx context.Context, id uuid.UUID, topic string, payload []byte) error {
	const query = `INSERT INTO outbox_events (id, topic, payload, attempts) VALUES ($1, $2, $3, 0)`
	_, err := q.db.Exec(ctx, query, id, topic, payload)
	return err
}

// ClaimOutboxBatch uses FOR UPDATE SKIP LOCKED so multiple worker replicas
// can drain the same table without double-delivering. topicPrefix restricts
// the claim to one dispatcher's concern (e.g. "email." or "audit.") so the
// audit drainer and the mail drainer never fight over each other's rows.
func (q *Queries) ClaimOutboxBatch(ctx context.Context, topicPrefix string, limit int) ([]OutboxEvent, error) {
	const query = `
		SELECT id, topic, payload, created_at, dispatched_at, attempts
		FROM outbox_events
		WHERE dispatched_at IS NULL AND topic LIKE $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	rows, err := q.db.Query(ctx, query, topicPrefix+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.Topic, &e.Payload, &e.CreatedAt, &e.DispatchedAt, &e.Attempts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) MarkOutboxDispatched(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE outbox_events SET dispatched_at = now() WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id)
	return err
}

func (q *Queries) IncrementOutboxAttempts(ctx context.Context, id uuid.UUID) error {
	const query = `UPDATE outbox_events SET attempts = attempts + 1 WHERE id = $1`
	_, err := q.db.Exec(ctx, query, id)
	return err
}
