package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// BookingEventType names a lifecycle event published to the event stream
type BookingEventType string

const (
	BookingEventCreated   BookingEventType = "booking.created"
	BookingEventConfirmed BookingEventType = "booking.confirmed"
	BookingEventCompleted BookingEventType = "booking.completed"
	BookingEventCancelled BookingEventType = "booking.cancelled"
)

// EventTypeForStatus maps a target status to the event it emits
func EventTypeForStatus(s BookingStatus) BookingEventType {
	switch s {
	case BookingStatusConfirmed:
		return BookingEventConfirmed
	case BookingStatusCompleted:
		return BookingEventCompleted
	case BookingStatusCancelled:
		return BookingEventCancelled
	default:
		return BookingEventCreated
	}
}

// Outbox statuses
const (
	OutboxStatusNew        = "new"
	OutboxStatusProcessing = "processing"
	OutboxStatusProcessed  = "processed"
)

// BookingEvent is an outbox row written in the same transaction as the change it describes
type BookingEvent struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	BookingID uuid.UUID        `json:"booking_id" db:"booking_id"`
	EventType BookingEventType `json:"event_type" db:"event_type"`
	Payload   types.JSONText   `json:"payload" db:"payload"`
	Status    string           `json:"status" db:"status"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// BookingEventPayload is the body of every booking event
type BookingEventPayload struct {
	BookingID  uuid.UUID     `json:"booking_id"`
	TouristID  uuid.UUID     `json:"tourist_id"`
	VehicleID  uuid.UUID     `json:"vehicle_id"`
	DriverID   uuid.UUID     `json:"driver_id"`
	Status     BookingStatus `json:"status"`
	TripDate   Date          `json:"trip_date"`
	Amount     Money         `json:"amount"`
	Fee        *Money        `json:"fee,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NewBookingEvent builds an outbox event from the booking's state after the change
func NewBookingEvent(b *Booking, eventType BookingEventType, at time.Time) (*BookingEvent, error) {
	payload, err := json.Marshal(BookingEventPayload{
		BookingID:  b.ID,
		TouristID:  b.TouristID,
		VehicleID:  b.VehicleID,
		DriverID:   b.DriverID,
		Status:     b.Status,
		TripDate:   b.TripDate,
		Amount:     b.TotalAmount,
		Fee:        b.CancellationFee,
		OccurredAt: at.UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &BookingEvent{
		ID:        uuid.New(),
		BookingID: b.ID,
		EventType: eventType,
		Payload:   types.JSONText(payload),
		Status:    OutboxStatusNew,
		CreatedAt: at,
		UpdatedAt: at,
	}, nil
}
