package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"
)

// SMTPProvider implements EmailProvider over standard SMTP. It supports
// both STARTTLS (587) and implicit TLS (465), and re-validates the
// configured host on every send to close a DNS-rebinding window between
// boot-time validation and the actual dial.
type SMTPProvider struct {
	Config SMTPConfig
}

// NewSMTPProvider validates the configured host/port and From address once
// up front so misconfiguration fails at boot instead of on the first send.
func NewSMTPProvider(config SMTPConfig) (*SMTPProvider, error) {
	if err := ValidateSMTPConfig(config.Host, config.Port); err != nil {
		return nil, fmt.Errorf("mailer: invalid SMTP configuration: %w", err)
	}
	if _, err := sanitizeEmailAddress(config.From); err != nil {
		return nil, fmt.Errorf("mailer: invalid From address: %w", err)
	}
	return &SMTPProvider{Config: config}, nil
}

func (p *SMTPProvider) Send(ctx context.Context, payload EmailPayload) (string, error) {
	logger := slog.With("template", payload.Template, "request_id", payload.RequestID)

	if err := ValidateSMTPConfig(p.Config.Host, p.Config.Port); err != nil {
		logger.Error("smtp destination failed revalidation", "host", p.Config.Host, "error", err)
		return "", fmt.Errorf("SMTP configuration failed validation")
	}

	toAddr, err := sanitizeEmailAddress(payload.To)
	if err != nil {
		logger.Warn("invalid recipient address", "error", err)
		return "", fmt.Errorf("invalid recipient address")
	}
	fromAddr, err := sanitizeEmailAddress(p.Config.From)
	if err != nil {
		logger.Error("invalid configured From address", "error", err)
		return "", fmt.Errorf("SMTP configuration error")
	}

	message, err := p.buildMessage(fromAddr, toAddr, payload)
	if err != nil {
		return "", fmt.Errorf("failed to build email message: %w", err)
	}

	serverAddr := fmt.Sprintf("%s:%d", p.Config.Host, p.Config.Port)
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	var conn net.Conn
	if p.Config.TLSMode == "tls" {
		tlsConfig := &tls.Config{ServerName: p.Config.Host, MinVersion: tls.VersionTLS12}
		conn, err = tls.DialWithDialer(dialer, "tcp", serverAddr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", serverAddr)
	}
	if err != nil {
		logger.Error("smtp dial failed", "host", p.Config.Host, "error", err)
		return "", fmt.Errorf("SMTP connection failed")
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, p.Config.Host)
	if err != nil {
		logger.Error("smtp client init failed", "error", err)
		return "", fmt.Errorf("SMTP protocol error")
	}
	defer client.Quit()

	if p.Config.TLSMode == "starttls" {
		tlsConfig := &tls.Config{ServerName: p.Config.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsConfig); err != nil {
			logger.Error("starttls failed", "error", err)
			return "", fmt.Errorf("SMTP TLS upgrade failed")
		}
	}

	if p.Config.User != "" {
		auth := smtp.PlainAuth("", p.Config.User, p.Config.Pass, p.Config.Host)
		if err := client.Auth(auth); err != nil {
			logger.Error("smtp auth failed", "user", p.Config.User, "error", err)
			return "", fmt.Errorf("SMTP authentication failed")
		}
	}

	if err := client.Mail(fromAddr); err != nil {
		return "", fmt.Errorf("SMTP MAIL command failed: %w", err)
	}
	if err := client.Rcpt(toAddr); err != nil {
		return "", fmt.Errorf("SMTP RCPT command failed: %w", err)
	}
	writer, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("SMTP DATA command failed: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		return "", fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize email: %w", err)
	}

	messageID := fmt.Sprintf("<%s@%s>", payload.RequestID, p.Config.Host)
	logger.Info("email sent", "message_id", messageID)
	return messageID, nil
}

func (p *SMTPProvider) buildMessage(from, to string, payload EmailPayload) ([]byte, error) {
	messageID := fmt.Sprintf("<%s@%s>", payload.RequestID, p.Config.Host)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subjectFor(payload.Template))
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(bodyFor(payload))
	return []byte(msg.String()), nil
}

func subjectFor(t EmailTemplate) string {
	switch t {
	case TemplateInviteUser:
		return "You've been invited"
	case TemplatePasswordReset:
		return "Reset your password"
	case TemplateEmailVerification:
		return "Verify your email address"
	case TemplateMagicLink:
		return "Your sign-in link"
	case TemplateEmailChange:
		return "Confirm your new email address"
	default:
		return "Notification"
	}
}

func bodyFor(payload EmailPayload) string {
	var body strings.Builder
	body.WriteString("Hello,\n\n")
	if link := payload.Data["link"]; link != "" {
		body.WriteString("Use the link below to continue:\n\n")
		body.WriteString(link)
		body.WriteString("\n\n")
	}
	body.WriteString("If you didn't request this, you can ignore this email.\n\n")
	body.WriteString("Thanks,\nLavente Care")
	return body.String()
}

// sanitizeEmailAddress parses and re-serializes an address via net/mail,
// rejecting CRLF in either the address or display name to prevent SMTP
// header/MIME injection.
func sanitizeEmailAddress(addr string) (string, error) {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(parsed.Address, "\r\n") || strings.ContainsAny(parsed.Name, "\r\n") {
		return "", fmt.Errorf("CRLF injection detected in address")
	}
	return parsed.String(), nil
}
