// Package notify tells an operator about failures that need a human, like
// results that could not be stored or a worker that gave up.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("platescraper/internal/notify")

// Notifier delivers a short message to an operator.
//
// note: fault injection point
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
	// Recipients defaults to EmailAddress.
	Recipients []string `json:"recipients"`
}

func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && c.EmailAddress != ""
}

// New returns an EmailNotifier when config is usable, otherwise a
// LogNotifier.
func New(config SmtpConfig) Notifier {
	if config.Enabled() {
		return EmailNotifier{config: config}
	}
	return LogNotifier{}
}

type EmailNotifier struct {
	config SmtpConfig
}

func NewEmailNotifier(config SmtpConfig) EmailNotifier {
	return EmailNotifier{config: config}
}

func (n EmailNotifier) send(mail *email.Email) error {
	addr := fmt.Sprintf("%s:%d", n.config.Server, n.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", n.config.EmailAddress, n.config.Password, n.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	return err
}

func (n EmailNotifier) Notify(ctx context.Context, subject, body string) error {
	ctx, span := tracer.Start(ctx, "Notify")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Plate Scraper <%s>", n.config.EmailAddress)
	mail.To = n.config.Recipients
	if len(mail.To) == 0 {
		mail.To = []string{n.config.EmailAddress}
	}
	mail.Subject = subject
	mail.Text = []byte(body)

	// the smtp client has no context support, give up waiting on cancel.
	done := make(chan error, 1)
	go func() {
		done <- n.send(mail)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the default logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, subject, body string) error {
	slog.WarnContext(ctx, "operator notification", "subject", subject, "body", body)
	return nil
}
