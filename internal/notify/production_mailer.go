package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// OutboxMailer implements EmailSender by enqueueing to the shared,
// topic-addressed outbox table (internal/store) that cmd/emailworker
// drains, instead of sending synchronously. The caller's request never
// blocks on an SMTP round-trip or retry logic.
type OutboxMailer struct {
	db     outboxStore
	logger *slog.Logger
}

type outboxStore interface {
	EnqueueOutboxEvent(ctx context.Context, id uuid.UUID, topic string, payload []byte) error
}

// NewOutboxMailer builds a mailer that defers delivery to cmd/emailworker.
func NewOutboxMailer(db outboxStore, logger *slog.Logger) *OutboxMailer {
	return &OutboxMailer{db: db, logger: logger}
}

// EmailJob is the JSON payload stored in outbox_events.payload for every
// "email.*" topic. Template selects the copy cmd/emailworker renders.
type EmailJob struct {
	Template string            `json:"template"`
	To       string            `json:"to"`
	Data     map[string]string `json:"data"`
}

const (
	TemplateInvitation          = "invitation"
	TemplatePasswordReset       = "password_reset"
	TemplateVerification        = "verification"
	TemplateMagicLink           = "magic_link"
	TemplateEmailChangeConfirm  = "email_change"
)

func (m *OutboxMailer) enqueue(ctx context.Context, template, to string, data map[string]string) error {
	job := EmailJob{Template: template, To: to, Data: data}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("notify: marshal email job: %w", err)
	}
	if err := m.db.EnqueueOutboxEvent(ctx, uuid.New(), "email."+template, payload); err != nil {
		return fmt.Errorf("notify: enqueue email job: %w", err)
	}
	m.logger.Info("email enqueued", "template", template)
	return nil
}

func (m *OutboxMailer) SendInvitation(ctx context.Context, to string, inviteURL string) error {
	return m.enqueue(ctx, TemplateInvitation, to, map[string]string{"link": inviteURL})
}

func (m *OutboxMailer) SendPasswordReset(ctx context.Context, to string, token string, appURL string) error {
	return m.enqueue(ctx, TemplatePasswordReset, to, map[string]string{
		"token": token,
		"link":  appURL + "/auth/reset?token=" + token,
	})
}

func (m *OutboxMailer) SendVerification(ctx context.Context, to string, token string, appURL string) error {
	return m.enqueue(ctx, TemplateVerification, to, map[string]string{
		"token": token,
		"link":  appURL + "/auth/verify?token=" + token,
	})
}

func (m *OutboxMailer) SendMagicLink(ctx context.Context, to string, token string, appURL string) error {
	return m.enqueue(ctx, TemplateMagicLink, to, map[string]string{
		"token": token,
		"link":  appURL + "/auth/magic?token=" + token,
	})
}

func (m *OutboxMailer) SendEmailChangeConfirmation(ctx context.Context, to string, token string, appURL string) error {
	return m.enqueue(ctx, TemplateEmailChangeConfirm, to, map[string]string{
		"token": token,
		"link":  appURL + "/account/email/confirm?token=" + token,
	})
}
