package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusCompleted: {},
	BookingStatusCancelled: {},
}

// IsValid returns true if the status is a recognized booking status
func (s BookingStatus) IsValid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransitionTo returns true if the state machine allows s -> target
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range bookingTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true for completed and cancelled (and unknown) statuses
func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// BlocksVehicle reports whether a booking in this status holds its vehicle for the day
func (s BookingStatus) BlocksVehicle() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// ParseBookingStatus converts a string to a BookingStatus
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %s", s)
	}
	return status, nil
}

// Date is a calendar date without time of day, stored as DATE
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return Date{Time: t}, nil
}

// MustParseDate is ParseDate for literals; it panics on bad input.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		d.Time = time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
		return nil
	case string:
		return d.parseInto(v)
	case []byte:
		return d.parseInto(string(v))
	case nil:
		d.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) parseInto(s string) error {
	// lib/pq may hand back a full timestamp for DATE columns
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parseInto(s)
}

var tripTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidTripTime reports whether s is a 24h HH:MM time
func ValidTripTime(s string) bool {
	return tripTimePattern.MatchString(s)
}

// ItineraryStop is one ordered stop of a planned trip
type ItineraryStop struct {
	Name          string  `json:"name"`
	DestinationID *string `json:"destination_id,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

// Itinerary is stored as a JSONB array
type Itinerary []ItineraryStop

// Value returns JSON as string for compatibility with pgx simple protocol mode
func (it Itinerary) Value() (driver.Value, error) {
	if it == nil {
		return "[]", nil
	}
	b, err := json.Marshal(it)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (it *Itinerary) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*it = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Itinerary", src)
	}
	return json.Unmarshal(b, it)
}

// Booking is one tourist's reservation of one vehicle for one trip date
type Booking struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	TouristID          uuid.UUID     `json:"tourist_id" db:"tourist_id"`
	VehicleID          uuid.UUID     `json:"vehicle_id" db:"vehicle_id"`
	DriverID           uuid.UUID     `json:"driver_id" db:"driver_id"`
	DestinationID      *uuid.UUID    `json:"destination_id,omitempty" db:"destination_id"`
	TripDate           Date          `json:"trip_date" db:"trip_date"`
	TripTime           string        `json:"trip_time" db:"trip_time"`
	PickupLocation     string        `json:"pickup_location" db:"pickup_location"`
	DropoffLocation    *string       `json:"dropoff_location,omitempty" db:"dropoff_location"`
	Passengers         int           `json:"passengers" db:"passengers"`
	Status             BookingStatus `json:"status" db:"status"`
	TotalAmount        Money         `json:"total_amount" db:"total_amount"`
	CancellationReason *string       `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CancellationFee    *Money        `json:"cancellation_fee,omitempty" db:"cancellation_fee"`
	Itinerary          Itinerary     `json:"itinerary" db:"itinerary"`
	Notes              *string       `json:"notes,omitempty" db:"notes"`
	ConfirmedAt        *time.Time    `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// TripStart returns the instant the trip begins, interpreting date and time in loc
func (b *Booking) TripStart(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", b.TripDate.String()+" "+b.TripTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid trip date/time for booking %s: %w", b.ID, err)
	}
	return t, nil
}

// StatusChange describes a conditional status update on a booking
type StatusChange struct {
	BookingID          uuid.UUID
	From               BookingStatus
	To                 BookingStatus
	CancellationReason *string
	CancellationFee    *Money
	At                 time.Time
}

// CreateBookingRequest is the booking.create payload
type CreateBookingRequest struct {
	VehicleID       string    `json:"vehicle_id" binding:"required,uuid"`
	DestinationID   *string   `json:"destination_id,omitempty" binding:"omitempty,uuid"`
	TripDate        string    `json:"trip_date" binding:"required"`
	TripTime        string    `json:"trip_time" binding:"required"`
	PickupLocation  string    `json:"pickup_location" binding:"required"`
	DropoffLocation *string   `json:"dropoff_location,omitempty"`
	Passengers      int       `json:"passengers,omitempty" binding:"omitempty,min=0"`
	TotalAmount     *Money    `json:"total_amount" binding:"required"`
	Itinerary       Itinerary `json:"itinerary,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
}

// CreateBookingResult is returned by booking.create
type CreateBookingResult struct {
	BookingID uuid.UUID `json:"booking_id"`
	PaymentID uuid.UUID `json:"payment_id"`
}

// UpdateBookingStatusRequest is the booking.status payload
type UpdateBookingStatusRequest struct {
	Status string  `json:"status" binding:"required"`
	Reason *string `json:"reason,omitempty"`
}

// CancelBookingRequest is the booking.cancel payload
type CancelBookingRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// CancelBookingResult is returned by booking.cancel
type CancelBookingResult struct {
	BookingID    uuid.UUID `json:"booking_id"`
	Fee          Money     `json:"fee"`
	RefundAmount *Money    `json:"refund_amount,omitempty"`
}

// BookingWithPayment is the read model returned by booking lookups
type BookingWithPayment struct {
	Booking
	Payment *Payment `json:"payment,omitempty"`
}

// BookingFilter narrows booking list queries
type BookingFilter struct {
	TouristID *uuid.UUID
	DriverID  *uuid.UUID
	Status    *BookingStatus
	Limit     int
	Offset    int
}

// Validate checks the rules the binding tags cannot express. Presence and
// UUID format are enforced by gin when the request is bound.
func (r *CreateBookingRequest) Validate() error {
	if _, err := ParseDate(r.TripDate); err != nil {
		return NewValidationError("trip_date must be in YYYY-MM-DD format")
	}
	if !ValidTripTime(r.TripTime) {
		return NewValidationError("trip_time must be in HH:MM format")
	}
	if strings.TrimSpace(r.PickupLocation) == "" {
		return NewValidationError("pickup_location is required")
	}
	if r.TotalAmount == nil || *r.TotalAmount <= 0 {
		return NewValidationError("total_amount must be greater than zero")
	}
	if r.Passengers < 0 {
		return NewValidationError("passengers cannot be negative")
	}
	for i, stop := range r.Itinerary {
		if strings.TrimSpace(stop.Name) == "" {
			return NewValidationError("itinerary stop %d has no name", i+1)
		}
	}
	return nil
}
