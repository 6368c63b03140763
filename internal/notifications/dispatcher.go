// Package notifications delivers booking and payment messages to tourists
// and drivers over email, RabbitMQ or the log.
package notifications

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Message is one notification to one recipient
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// Kind names the lifecycle event, e.g. "booking.created"
	Kind string `json:"kind,omitempty"`
}

// Dispatcher delivers a message
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// LogDispatcher writes messages to the log instead of delivering them
type LogDispatcher struct {
	logger *logrus.Logger
}

// NewLogDispatcher creates a new LogDispatcher
func NewLogDispatcher(logger *logrus.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	d.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
		"kind":    msg.Kind,
	}).Info("📧 Notification (log mode)")
	return nil
}
