package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/metrics"
	"github.com/tripmarket/booking-core/internal/models"
)

// BookingService owns the booking state machine: creation, status
// transitions and cancellation
type BookingService struct {
	tx           Transactor
	bookings     BookingStore
	payments     PaymentStore
	outbox       OutboxStore
	audits       AuditStore
	reference    ReferenceStore
	availability *AvailabilityService
	policy       *CancellationPolicy
	notifier     Notifier
	logger       *logrus.Logger
	now          Clock
}

// NewBookingService creates a new BookingService
func NewBookingService(
	tx Transactor,
	bookings BookingStore,
	payments PaymentStore,
	outbox OutboxStore,
	audits AuditStore,
	reference ReferenceStore,
	availability *AvailabilityService,
	policy *CancellationPolicy,
	notifier Notifier,
	logger *logrus.Logger,
) *BookingService {
	return &BookingService{
		tx:           tx,
		bookings:     bookings,
		payments:     payments,
		outbox:       outbox,
		audits:       audits,
		reference:    reference,
		availability: availability,
		policy:       policy,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
	}
}

// ============================================================================
// CREATE
// ============================================================================

// Create books a vehicle for a tourist. The booking and its pending payment
// are written in one transaction that holds the vehicle-day lock, so two
// concurrent requests for the same vehicle and date cannot both succeed.
func (s *BookingService) Create(ctx context.Context, touristID uuid.UUID, req *models.CreateBookingRequest) (*models.CreateBookingResult, error) {
	// 1. Validate request
	if err := req.Validate(); err != nil {
		return nil, err
	}
	vehicleID, err := uuid.Parse(req.VehicleID)
	if err != nil {
		return nil, models.NewValidationError("vehicle_id must be a valid UUID")
	}
	tripDate, _ := models.ParseDate(req.TripDate)

	passengers := req.Passengers
	if passengers == 0 {
		passengers = 1
	}

	// 2. Resolve the vehicle and its driver from the catalog
	vehicle, err := s.reference.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vehicle: %w", err)
	}
	if vehicle == nil {
		return nil, models.NewNotFoundError("vehicle")
	}
	if passengers > vehicle.Capacity {
		return nil, models.NewValidationError("vehicle seats at most %d passengers", vehicle.Capacity)
	}

	now := s.now()
	booking := &models.Booking{
		ID:              uuid.New(),
		TouristID:       touristID,
		VehicleID:       vehicle.ID,
		DriverID:        vehicle.DriverID,
		TripDate:        tripDate,
		TripTime:        req.TripTime,
		PickupLocation:  req.PickupLocation,
		DropoffLocation: req.DropoffLocation,
		Passengers:      passengers,
		Status:          models.BookingStatusPending,
		TotalAmount:     *req.TotalAmount,
		Itinerary:       req.Itinerary,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.DestinationID != nil {
		destinationID, err := uuid.Parse(*req.DestinationID)
		if err != nil {
			return nil, models.NewValidationError("destination_id must be a valid UUID")
		}
		booking.DestinationID = &destinationID
	}

	start, err := booking.TripStart(s.policy.Location())
	if err != nil {
		return nil, models.NewValidationError("invalid trip date or time")
	}
	if !start.After(now) {
		return nil, models.NewValidationError("trip must start in the future")
	}

	// 3. Advisory pre-check, answered without taking the lock
	available, err := s.availability.IsAvailable(ctx, vehicle.ID, tripDate)
	if err != nil {
		return nil, err
	}
	if !available {
		metrics.BookingConflicts.Inc()
		return nil, models.NewConflictError("vehicle is not available on %s", tripDate)
	}

	payment := &models.Payment{
		ID:             uuid.New(),
		BookingID:      booking.ID,
		Method:         models.PaymentMethodCard,
		Amount:         booking.TotalAmount,
		Status:         models.PaymentStatusPending,
		IdempotencyKey: booking.ID.String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// 4. Lock, re-check and insert booking + payment + event together
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.bookings.LockVehicleDay(ctx, vehicle.ID, tripDate); err != nil {
			return err
		}
		blocked, err := s.bookings.HasBlockingBooking(ctx, vehicle.ID, tripDate)
		if err != nil {
			return err
		}
		if blocked {
			return models.NewConflictError("vehicle is not available on %s", tripDate)
		}
		if err := s.bookings.Insert(ctx, booking); err != nil {
			return err
		}
		if err := s.payments.Insert(ctx, payment); err != nil {
			return err
		}
		return s.recordEvent(ctx, booking, models.BookingEventCreated, now)
	})
	if err != nil {
		if models.IsKind(err, models.KindConflict) {
			metrics.BookingConflicts.Inc()
			return nil, err
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	metrics.BookingsCreated.Inc()
	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"payment_id": payment.ID,
		"tourist_id": touristID,
		"vehicle_id": vehicle.ID,
		"trip_date":  tripDate.String(),
		"amount":     booking.TotalAmount.String(),
	}).Info("Booking created")

	s.notifier.BookingCreated(ctx, booking)

	return &models.CreateBookingResult{
		BookingID: booking.ID,
		PaymentID: payment.ID,
	}, nil
}

// ============================================================================
// TRANSITIONS
// ============================================================================

// Transition moves a booking to target on behalf of actor. Cancellation is
// routed through Cancel so that a reason and fee are always attached.
func (s *BookingService) Transition(ctx context.Context, bookingID uuid.UUID, target models.BookingStatus, actor models.Actor, reason *string) (*models.Booking, error) {
	if !target.IsValid() {
		return nil, models.NewValidationError("invalid booking status: %s", target)
	}
	if target == models.BookingStatusCancelled {
		if _, err := s.Cancel(ctx, bookingID, actor, reason); err != nil {
			return nil, err
		}
		return s.mustGet(ctx, bookingID)
	}

	// 1. Authorize against the current state
	current, err := s.loadForActor(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleTourist {
		return nil, models.NewForbiddenError("tourists can only cancel bookings")
	}
	if !current.Status.CanTransitionTo(target) {
		return nil, models.NewInvalidTransitionError(current.Status, target)
	}

	// 2. Apply under the row lock with a conditional update
	now := s.now()
	var updated *models.Booking
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return models.NewNotFoundError("booking")
		}
		if !b.Status.CanTransitionTo(target) {
			return models.NewInvalidTransitionError(b.Status, target)
		}

		if target == models.BookingStatusConfirmed {
			p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
			if err != nil {
				return err
			}
			if p == nil || p.Status != models.PaymentStatusCompleted {
				return &models.AppError{
					Kind:    models.KindInvalidTransition,
					Message: "booking cannot be confirmed before its payment is completed",
				}
			}
		}

		ok, err := s.bookings.UpdateStatus(ctx, models.StatusChange{
			BookingID: bookingID,
			From:      b.Status,
			To:        target,
			At:        now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return models.NewInvalidTransitionError(b.Status, target)
		}

		applyStatus(b, target, now)
		updated = b
		return s.recordEvent(ctx, b, models.EventTypeForStatus(target), now)
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingTransitions.WithLabelValues(string(current.Status), string(target)).Inc()
	s.logger.WithFields(logrus.Fields{
		"booking_id": bookingID,
		"from":       current.Status,
		"to":         target,
		"actor_id":   actor.UserID,
		"actor_role": actor.Role,
	}).Info("Booking status updated")

	s.notifier.BookingStatusChanged(ctx, updated, current.Status)
	return updated, nil
}

// Cancel cancels a pending or confirmed booking, attaching the reason and
// the fee computed by the cancellation policy. If the booking was paid the
// amount owed back to the tourist is recorded on the payment.
func (s *BookingService) Cancel(ctx context.Context, bookingID uuid.UUID, actor models.Actor, reason *string) (*models.CancelBookingResult, error) {
	current, err := s.loadForActor(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, models.NewInvalidTransitionError(current.Status, models.BookingStatusCancelled)
	}

	cancelReason := actor.DefaultCancellationReason()
	if reason != nil && *reason != "" {
		cancelReason = *reason
	}

	now := s.now()
	result := &models.CancelBookingResult{BookingID: bookingID}
	var cancelled *models.Booking

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return models.NewNotFoundError("booking")
		}
		if b.Status.IsTerminal() {
			return models.NewInvalidTransitionError(b.Status, models.BookingStatusCancelled)
		}

		fee, err := s.policy.ComputeFee(b, now)
		if err != nil {
			return err
		}

		ok, err := s.bookings.UpdateStatus(ctx, models.StatusChange{
			BookingID:          bookingID,
			From:               b.Status,
			To:                 models.BookingStatusCancelled,
			CancellationReason: &cancelReason,
			CancellationFee:    &fee,
			At:                 now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return models.NewInvalidTransitionError(b.Status, models.BookingStatusCancelled)
		}

		result.Fee = fee
		result.RefundAmount = nil

		p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if p != nil && p.Status == models.PaymentStatusCompleted {
			refund := b.TotalAmount - fee
			if refund < 0 {
				refund = 0
			}
			if err := s.payments.SetRefundDue(ctx, p.ID, refund, now); err != nil {
				return err
			}
			result.RefundAmount = &refund

			audit := models.NewPaymentAudit(models.PaymentEventRefundDue, models.PaymentSourceSystem).ForPayment(p)
			audit.ExpectedAmount = &refund
			audit.SetPaymentStatus(string(p.Status))
			audit.SetRequestMeta(models.RequestMetaFrom(ctx))
			if err := s.audits.Log(ctx, audit); err != nil {
				return err
			}
		}

		applyStatus(b, models.BookingStatusCancelled, now)
		b.CancellationReason = &cancelReason
		b.CancellationFee = &fee
		cancelled = b
		return s.recordEvent(ctx, b, models.BookingEventCancelled, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingTransitions.WithLabelValues(string(current.Status), string(models.BookingStatusCancelled)).Inc()
	fields := logrus.Fields{
		"booking_id": bookingID,
		"from":       current.Status,
		"fee":        result.Fee.String(),
		"actor_id":   actor.UserID,
		"actor_role": actor.Role,
	}
	if result.RefundAmount != nil {
		fields["refund_due"] = result.RefundAmount.String()
	}
	s.logger.WithFields(fields).Info("Booking cancelled")

	s.notifier.BookingStatusChanged(ctx, cancelled, current.Status)
	return result, nil
}

// ============================================================================
// READS
// ============================================================================

// Get returns a booking and its payment if the actor has rights over it
func (s *BookingService) Get(ctx context.Context, bookingID uuid.UUID, actor models.Actor) (*models.BookingWithPayment, error) {
	b, err := s.loadForActor(ctx, bookingID, actor)
	if err != nil {
		return nil, err
	}
	p, err := s.payments.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	return &models.BookingWithPayment{Booking: *b, Payment: p}, nil
}

// ListForActor lists the tourist's own bookings, the driver's assigned
// bookings, or every booking for admins
func (s *BookingService) ListForActor(ctx context.Context, actor models.Actor, status *models.BookingStatus, limit, offset int) ([]models.Booking, error) {
	if offset < 0 {
		return nil, models.NewValidationError("offset cannot be negative")
	}
	filter := models.BookingFilter{Status: status, Limit: limit, Offset: offset}

	userID := actor.UserID
	switch actor.Role {
	case models.RoleTourist:
		filter.TouristID = &userID
	case models.RoleDriver:
		filter.DriverID = &userID
	case models.RoleAdmin:
	default:
		return nil, models.NewForbiddenError("unknown role")
	}

	bookings, err := s.bookings.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *BookingService) loadForActor(ctx context.Context, bookingID uuid.UUID, actor models.Actor) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if b == nil {
		return nil, models.NewNotFoundError("booking")
	}
	if !actor.CanAccess(b) {
		return nil, models.NewForbiddenError("you do not have access to this booking")
	}
	return b, nil
}

func (s *BookingService) mustGet(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if b == nil {
		return nil, models.NewNotFoundError("booking")
	}
	return b, nil
}

func (s *BookingService) recordEvent(ctx context.Context, b *models.Booking, eventType models.BookingEventType, at time.Time) error {
	return recordBookingEvent(ctx, s.outbox, b, eventType, at)
}

// recordBookingEvent writes the outbox row for b; ctx must carry the
// transaction of the change it describes
func recordBookingEvent(ctx context.Context, outbox OutboxStore, b *models.Booking, eventType models.BookingEventType, at time.Time) error {
	event, err := models.NewBookingEvent(b, eventType, at)
	if err != nil {
		return fmt.Errorf("failed to build booking event: %w", err)
	}
	return outbox.Create(ctx, event)
}

// applyStatus mirrors a committed StatusChange on the in-memory booking
func applyStatus(b *models.Booking, status models.BookingStatus, at time.Time) {
	b.Status = status
	b.UpdatedAt = at
	switch status {
	case models.BookingStatusConfirmed:
		b.ConfirmedAt = &at
	case models.BookingStatusCompleted:
		b.CompletedAt = &at
	case models.BookingStatusCancelled:
		b.CancelledAt = &at
	}
}
