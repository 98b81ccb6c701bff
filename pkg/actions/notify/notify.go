// Package notify adapts email and sms actions onto host-provided senders.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/actions/httpcall"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/registry"
)

// Email is a rendered email ready for delivery.
type Email struct {
	To             []string
	Subject        string
	Body           string
	HTMLContent    string
	Template       string
	IdempotencyKey string
}

// SMS is a rendered text message ready for delivery.
type SMS struct {
	To             string
	Message        string
	IdempotencyKey string
}

// EmailSender delivers email. Returned errors are classified like adapter errors.
type EmailSender interface {
	SendEmail(ctx context.Context, email Email) (messageID string, err error)
}

// SMSSender delivers text messages.
type SMSSender interface {
	SendSMS(ctx context.Context, sms SMS) (messageID string, err error)
}

// LogSender records messages in the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "notify")}
}

func (s *LogSender) SendEmail(ctx context.Context, email Email) (string, error) {
	s.logger.InfoContext(ctx, "Email not delivered, no sender configured",
		"to", email.To, "subject", email.Subject, "idempotency_key", email.IdempotencyKey)

	return "log:" + email.IdempotencyKey, nil
}

func (s *LogSender) SendSMS(ctx context.Context, sms SMS) (string, error) {
	s.logger.InfoContext(ctx, "SMS not delivered, no sender configured",
		"to", sms.To, "length", len(sms.Message), "idempotency_key", sms.IdempotencyKey)

	return "log:" + sms.IdempotencyKey, nil
}

type EmailAdapter struct {
	sender EmailSender
}

func NewEmailAdapter(sender EmailSender) *EmailAdapter {
	return &EmailAdapter{sender: sender}
}

func (a *EmailAdapter) Execute(ctx context.Context, request registry.Request) (map[string]any, error) {
	config, ok := request.Config.(*models.EmailConfig)
	if !ok {
		return nil, models.ConfigurationError(fmt.Errorf("%w: %T", httpcall.ErrUnexpectedConfig, request.Config))
	}

	recipients := Recipients(config.To)
	if len(recipients) == 0 {
		return nil, models.ConfigurationError(errors.New("email has no recipients"))
	}

	messageID, err := a.sender.SendEmail(ctx, Email{
		To:             recipients,
		Subject:        config.Subject,
		Body:           config.Body,
		HTMLContent:    config.HTMLContent,
		Template:       config.Template,
		IdempotencyKey: request.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"messageId": messageID, "to": recipients}, nil
}

type SMSAdapter struct {
	sender SMSSender
}

func NewSMSAdapter(sender SMSSender) *SMSAdapter {
	return &SMSAdapter{sender: sender}
}

func (a *SMSAdapter) Execute(ctx context.Context, request registry.Request) (map[string]any, error) {
	config, ok := request.Config.(*models.SMSConfig)
	if !ok {
		return nil, models.ConfigurationError(fmt.Errorf("%w: %T", httpcall.ErrUnexpectedConfig, request.Config))
	}

	messageID, err := a.sender.SendSMS(ctx, SMS{
		To:             config.To,
		Message:        config.Message,
		IdempotencyKey: request.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{"messageId": messageID, "to": config.To}, nil
}

// Recipients splits a comma separated address list.
func Recipients(to string) []string {
	var out []string

	for _, address := range strings.Split(to, ",") {
		if address = strings.TrimSpace(address); address != "" {
			out = append(out, address)
		}
	}

	return out
}
