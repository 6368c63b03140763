package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/models"
)

// AvailabilityService answers whether vehicles are free on a date
type AvailabilityService struct {
	bookings  BookingStore
	reference ReferenceStore
	logger    *logrus.Logger
}

// NewAvailabilityService creates a new AvailabilityService
func NewAvailabilityService(bookings BookingStore, reference ReferenceStore, logger *logrus.Logger) *AvailabilityService {
	return &AvailabilityService{
		bookings:  bookings,
		reference: reference,
		logger:    logger,
	}
}

// IsAvailable reports whether no pending or confirmed booking holds the
// vehicle on date. Outside a transaction holding the vehicle-day lock the
// answer is advisory only.
func (s *AvailabilityService) IsAvailable(ctx context.Context, vehicleID uuid.UUID, date models.Date) (bool, error) {
	blocked, err := s.bookings.HasBlockingBooking(ctx, vehicleID, date)
	if err != nil {
		return false, fmt.Errorf("availability check: %w", err)
	}
	return !blocked, nil
}

// FindAvailableVehicles returns vehicles that seat passengers and are free on date
func (s *AvailabilityService) FindAvailableVehicles(ctx context.Context, date models.Date, passengers int) ([]models.Vehicle, error) {
	if passengers < 1 {
		return nil, models.NewValidationError("passengers must be at least 1")
	}

	vehicles, err := s.reference.FindAvailableVehicles(ctx, date, passengers)
	if err != nil {
		return nil, fmt.Errorf("vehicle search: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"date":       date.String(),
		"passengers": passengers,
		"found":      len(vehicles),
	}).Debug("Vehicle availability search")

	return vehicles, nil
}
