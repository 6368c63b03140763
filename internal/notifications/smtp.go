package notifications

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/config"
	gomail "gopkg.in/gomail.v2"
)

// SMTPDispatcher sends plain-text email through an SMTP relay
type SMTPDispatcher struct {
	dialer *gomail.Dialer
	from   string
	logger *logrus.Logger
}

// NewSMTPDispatcher creates a new SMTPDispatcher
func NewSMTPDispatcher(cfg config.NotificationConfig, logger *logrus.Logger) *SMTPDispatcher {
	dialer := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	dialer.TLSConfig = &tls.Config{
		InsecureSkipVerify: false,
		ServerName:         cfg.SMTPHost,
	}
	return &SMTPDispatcher{dialer: dialer, from: cfg.FromEmail, logger: logger}
}

func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", d.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	// gomail has no context support
	done := make(chan error, 1)
	go func() { done <- d.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		d.logger.WithField("to", msg.To).Debug("Email sent")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email to %s not confirmed: %w", msg.To, ctx.Err())
	}
}
