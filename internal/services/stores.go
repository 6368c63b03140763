package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tripmarket/booking-core/internal/models"
)

// The interfaces below are the slices of the database repositories the
// services depend on. *database.XRepository values satisfy them.

// Transactor runs fn so that every store call made with the context it
// receives commits or rolls back together
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type BookingStore interface {
	LockVehicleDay(ctx context.Context, vehicleID uuid.UUID, date models.Date) error
	HasBlockingBooking(ctx context.Context, vehicleID uuid.UUID, date models.Date) (bool, error)
	Insert(ctx context.Context, b *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	UpdateStatus(ctx context.Context, change models.StatusChange) (bool, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
}

type PaymentStore interface {
	Insert(ctx context.Context, p *models.Payment) error
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	GetByBookingIDForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	MarkAttempted(ctx context.Context, paymentID uuid.UUID, method string, reference *string, at time.Time) error
	MarkCompleted(ctx context.Context, s models.Settlement) (bool, error)
	MarkFailed(ctx context.Context, paymentID uuid.UUID, message string, at time.Time) error
	FlagForReconciliation(ctx context.Context, paymentID uuid.UUID, at time.Time) error
	ClearAttempt(ctx context.Context, paymentID uuid.UUID, at time.Time) error
	SetRefundDue(ctx context.Context, paymentID uuid.UUID, amount models.Money, at time.Time) error
	ListForReconciliation(ctx context.Context, staleBefore time.Time, limit int) ([]models.Payment, error)
}

type PaymentMethodStore interface {
	ListByTourist(ctx context.Context, touristID uuid.UUID) ([]models.SavedPaymentMethod, error)
	Insert(ctx context.Context, m *models.SavedPaymentMethod) (bool, error)
	SetDefault(ctx context.Context, touristID, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, touristID, id uuid.UUID) (bool, error)
}

type OutboxStore interface {
	Create(ctx context.Context, e *models.BookingEvent) error
}

type AuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// ReferenceStore reads catalog and profile data owned by other services
type ReferenceStore interface {
	GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	FindAvailableVehicles(ctx context.Context, date models.Date, passengers int) ([]models.Vehicle, error)
	GetUserProfile(ctx context.Context, id uuid.UUID) (*models.UserProfile, error)
}

// Notifier receives lifecycle events after they are committed. Calls must
// not block on delivery and have no error to report.
type Notifier interface {
	BookingCreated(ctx context.Context, b *models.Booking)
	BookingStatusChanged(ctx context.Context, b *models.Booking, from models.BookingStatus)
	PaymentCompleted(ctx context.Context, b *models.Booking, p *models.Payment)
}

// Clock returns the current time; tests replace it
type Clock func() time.Time
