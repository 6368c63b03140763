package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/models"
)

// ProfileStore resolves a user id to contact details
type ProfileStore interface {
	GetUserProfile(ctx context.Context, id uuid.UUID) (*models.UserProfile, error)
}

// Notifier turns booking lifecycle events into messages for the tourist
// and the driver. Delivery failures are logged and never reach the caller.
type Notifier struct {
	dispatcher Dispatcher
	profiles   ProfileStore
	logger     *logrus.Logger
}

// NewNotifier creates a new Notifier
func NewNotifier(dispatcher Dispatcher, profiles ProfileStore, logger *logrus.Logger) *Notifier {
	return &Notifier{dispatcher: dispatcher, profiles: profiles, logger: logger}
}

func (n *Notifier) BookingCreated(ctx context.Context, b *models.Booking) {
	n.notify(ctx, b, string(models.BookingEventCreated),
		func(name string) (string, string) {
			return "We received your booking",
				fmt.Sprintf("Hi %s,\n\nYour booking %s for %s at %s is pending payment.\nTotal: %s\n",
					name, b.ID, b.TripDate, b.TripTime, b.TotalAmount)
		},
		func(name string) (string, string) {
			return "New booking request",
				fmt.Sprintf("Hi %s,\n\nA tourist booked your vehicle for %s at %s, pickup at %s. It will be confirmed once paid.\n",
					name, b.TripDate, b.TripTime, b.PickupLocation)
		},
	)
}

func (n *Notifier) BookingStatusChanged(ctx context.Context, b *models.Booking, from models.BookingStatus) {
	kind := string(models.EventTypeForStatus(b.Status))
	subject := fmt.Sprintf("Booking %s", b.Status)

	body := func(name string) (string, string) {
		text := fmt.Sprintf("Hi %s,\n\nBooking %s for %s at %s changed from %s to %s.\n",
			name, b.ID, b.TripDate, b.TripTime, from, b.Status)
		if b.Status == models.BookingStatusCancelled {
			if b.CancellationReason != nil {
				text += fmt.Sprintf("Reason: %s\n", *b.CancellationReason)
			}
			if b.CancellationFee != nil {
				text += fmt.Sprintf("Cancellation fee: %s\n", *b.CancellationFee)
			}
		}
		return subject, text
	}
	n.notify(ctx, b, kind, body, body)
}

func (n *Notifier) PaymentCompleted(ctx context.Context, b *models.Booking, p *models.Payment) {
	txID := ""
	if p.TransactionID != nil {
		txID = *p.TransactionID
	}
	n.notify(ctx, b, string(models.BookingEventConfirmed),
		func(name string) (string, string) {
			return "Payment received, your trip is confirmed",
				fmt.Sprintf("Hi %s,\n\nWe received %s for booking %s (transaction %s).\nYour trip on %s at %s is confirmed.\n",
					name, p.Amount, b.ID, txID, b.TripDate, b.TripTime)
		},
		func(name string) (string, string) {
			return "Booking confirmed",
				fmt.Sprintf("Hi %s,\n\nThe booking for %s at %s is paid and confirmed. Pickup at %s.\n",
					name, b.TripDate, b.TripTime, b.PickupLocation)
		},
	)
}

type compose func(name string) (subject, body string)

// deferredSender resolves and delivers messages off the caller's goroutine
type deferredSender interface {
	SendLater(kind string, build func(ctx context.Context) []Message) error
}

func (n *Notifier) notify(ctx context.Context, b *models.Booking, kind string, tourist, driver compose) {
	build := func(ctx context.Context) []Message {
		var msgs []Message
		if msg, ok := n.messageFor(ctx, b.TouristID, kind, tourist); ok {
			msgs = append(msgs, msg)
		}
		if msg, ok := n.messageFor(ctx, b.DriverID, kind, driver); ok {
			msgs = append(msgs, msg)
		}
		return msgs
	}

	if async, ok := n.dispatcher.(deferredSender); ok {
		if err := async.SendLater(kind, build); err != nil {
			n.logger.WithError(err).WithField("booking_id", b.ID).Warn("Notifications not queued")
		}
		return
	}

	// the request may finish before the lookups do
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, msg := range build(ctx) {
		if err := n.dispatcher.Send(ctx, msg); err != nil {
			n.logger.WithError(err).WithField("to", msg.To).Warn("Notification not sent")
		}
	}
}

func (n *Notifier) messageFor(ctx context.Context, userID uuid.UUID, kind string, build compose) (Message, bool) {
	profile, err := n.lookup(ctx, userID)
	if err != nil {
		n.logger.WithError(err).WithField("user_id", userID).Warn("Profile lookup failed, notification skipped")
		return Message{}, false
	}
	p, ok := profile.Get()
	if !ok || p.Email == "" {
		n.logger.WithField("user_id", userID).Debug("No contact for user, notification skipped")
		return Message{}, false
	}

	name := p.Name
	if name == "" {
		name = "there"
	}
	subject, body := build(name)
	return Message{To: p.Email, Subject: subject, Body: body, Kind: kind}, true
}

// lookup separates "no such user" from a failed read
func (n *Notifier) lookup(ctx context.Context, id uuid.UUID) (models.Optional[models.UserProfile], error) {
	profile, err := n.profiles.GetUserProfile(ctx, id)
	if err != nil {
		return models.None[models.UserProfile](), err
	}
	if profile == nil {
		return models.None[models.UserProfile](), nil
	}
	return models.Some(*profile), nil
}
