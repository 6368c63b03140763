package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tripmarket/booking-core/internal/models"
)

// BookingRepository handles booking database operations
type BookingRepository struct {
	db Querier
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db Querier) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, tourist_id, vehicle_id, driver_id, destination_id,
	trip_date, trip_time, pickup_location, dropoff_location, passengers,
	status, total_amount, cancellation_reason, cancellation_fee,
	itinerary, notes, confirmed_at, completed_at, cancelled_at,
	created_at, updated_at`

// LockVehicleDay serializes booking creation for one vehicle and date until
// the surrounding transaction ends. Must be called inside a transaction.
func (r *BookingRepository) LockVehicleDay(ctx context.Context, vehicleID uuid.UUID, date models.Date) error {
	key := vehicleID.String() + "|" + date.String()
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to lock vehicle day: %w", err)
	}
	return nil
}

// HasBlockingBooking reports whether a pending or confirmed booking holds the vehicle on date
func (r *BookingRepository) HasBlockingBooking(ctx context.Context, vehicleID uuid.UUID, date models.Date) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE vehicle_id = $1
			  AND trip_date = $2
			  AND status IN ('pending', 'confirmed')
		)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, vehicleID, date); err != nil {
		return false, fmt.Errorf("failed to check vehicle availability: %w", err)
	}
	return exists, nil
}

// Insert stores a new booking. A concurrent blocking booking for the same
// vehicle and day surfaces as a ConflictError.
func (r *BookingRepository) Insert(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (
			id, tourist_id, vehicle_id, driver_id, destination_id,
			trip_date, trip_time, pickup_location, dropoff_location, passengers,
			status, total_amount, itinerary, notes, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16
		)`

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.TouristID, b.VehicleID, b.DriverID, b.DestinationID,
		b.TripDate, b.TripTime, b.PickupLocation, b.DropoffLocation, b.Passengers,
		b.Status, b.TotalAmount, b.Itinerary, b.Notes, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return models.NewConflictError("vehicle is already booked on %s", b.TripDate)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// GetByID retrieves a booking, returning nil if it does not exist
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves and row-locks a booking. Must be called inside a transaction.
func (r *BookingRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (r *BookingRepository) get(ctx context.Context, query string, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	if err := r.db.GetContext(ctx, &b, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// UpdateStatus applies change only if the booking is still in change.From.
// It returns false when another writer moved the booking first.
func (r *BookingRepository) UpdateStatus(ctx context.Context, change models.StatusChange) (bool, error) {
	set := []string{"status = $3", "updated_at = $4"}
	args := []interface{}{change.BookingID, change.From, change.To, change.At}

	switch change.To {
	case models.BookingStatusConfirmed:
		set = append(set, "confirmed_at = $4")
	case models.BookingStatusCompleted:
		set = append(set, "completed_at = $4")
	case models.BookingStatusCancelled:
		set = append(set, "cancelled_at = $4", "cancellation_reason = $5", "cancellation_fee = $6")
		args = append(args, change.CancellationReason, change.CancellationFee)
	}

	query := fmt.Sprintf(`UPDATE bookings SET %s WHERE id = $1 AND status = $2`, strings.Join(set, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

// List returns bookings matching filter, newest first
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.TouristID != nil {
		add("tourist_id = $%d", *filter.TouristID)
	}
	if filter.DriverID != nil {
		add("driver_id = $%d", *filter.DriverID)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	bookings := []models.Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}
