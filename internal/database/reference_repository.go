package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tripmarket/booking-core/internal/models"
)

// ReferenceRepository reads the vehicle catalog and user profiles owned by
// other services. It never writes.
type ReferenceRepository struct {
	db Querier
}

// NewReferenceRepository creates a new ReferenceRepository
func NewReferenceRepository(db Querier) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

const vehicleColumns = `id, driver_id, model, plate_number, capacity, price_per_day`

// GetVehicle returns an active vehicle, or nil if unknown
func (r *ReferenceRepository) GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var v models.Vehicle
	err := r.db.GetContext(ctx, &v, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1 AND is_active`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return &v, nil
}

// FindAvailableVehicles returns active vehicles that seat at least
// passengers and have no pending or confirmed booking on date
func (r *ReferenceRepository) FindAvailableVehicles(ctx context.Context, date models.Date, passengers int) ([]models.Vehicle, error) {
	query := `
		SELECT ` + vehicleColumns + `
		FROM vehicles v
		WHERE v.is_active
		  AND v.capacity >= $2
		  AND NOT EXISTS (
			SELECT 1 FROM bookings b
			WHERE b.vehicle_id = v.id
			  AND b.trip_date = $1
			  AND b.status IN ('pending', 'confirmed')
		  )
		ORDER BY v.capacity ASC, v.price_per_day ASC`

	vehicles := []models.Vehicle{}
	if err := r.db.SelectContext(ctx, &vehicles, query, date, passengers); err != nil {
		return nil, fmt.Errorf("failed to find available vehicles: %w", err)
	}
	return vehicles, nil
}

// GetUserProfile returns contact details for a user, or nil if unknown
func (r *ReferenceRepository) GetUserProfile(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	query := `
		SELECT id, email, TRIM(CONCAT(first_name, ' ', last_name)) AS name
		FROM users
		WHERE id = $1`

	var p models.UserProfile
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	return &p, nil
}
