// Package mailer sends transactional email over SMTP for cmd/emailworker,
// which drains the "email.*" outbox topics internal/notify.OutboxMailer
// enqueues. SMTP configuration is instance-wide; per-tenant SMTP
// administration belongs to the admin dashboard, not this service.
package mailer

import (
	"context"
)

// EmailProvider defines the contract for transactional email delivery.
// Implementations MUST be thread-safe and should treat Send as retry-safe:
// the emailworker retries on error up to a fixed attempt cap.
type EmailProvider interface {
	// Send delivers an email and returns the provider's message ID for
	// tracking. ctx should carry a short deadline (recommended: 15s) so one
	// slow SMTP server can't starve the worker's batch loop.
	Send(ctx context.Context, payload EmailPayload) (providerMessageID string, err error)
}

// EmailPayload is the rendered form of a notify.EmailJob the worker is about
// to hand to an EmailProvider.
type EmailPayload struct {
	To       string
	Template EmailTemplate
	Data     map[string]string
	RequestID string
}

// EmailTemplate restricts delivery to a fixed set of known templates,
// preventing an attacker-controlled outbox payload from selecting an
// arbitrary template path.
type EmailTemplate string

const (
	TemplateInviteUser        EmailTemplate = "invitation"
	TemplatePasswordReset     EmailTemplate = "password_reset"
	TemplateEmailVerification EmailTemplate = "verification"
	TemplateMagicLink         EmailTemplate = "magic_link"
	TemplateEmailChange       EmailTemplate = "email_change"
)

// ValidTemplates is checked before a worker hands a payload to Send,
// rejecting anything an outbox row didn't legitimately enqueue.
var ValidTemplates = map[EmailTemplate]bool{
	TemplateInviteUser:        true,
	TemplatePasswordReset:     true,
	TemplateEmailVerification: true,
	TemplateMagicLink:         true,
	TemplateEmailChange:       true,
}

// SMTPConfig holds the instance-wide outbound mail relay configuration,
// loaded once at process start from environment variables (internal/config).
type SMTPConfig struct {
	Host    string
	Port    int
	User    string
	Pass    string
	From    string
	TLSMode string // "starttls" or "tls"
}
