package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/metrics"
	"github.com/tripmarket/booking-core/internal/models"
)

// PaymentService settles bookings against the payment gateway
type PaymentService struct {
	tx       Transactor
	bookings BookingStore
	payments PaymentStore
	methods  PaymentMethodStore
	outbox   OutboxStore
	audits   AuditStore
	gateway  PaymentGateway
	locker   PaymentLocker
	notifier Notifier
	config   *config.PaymentConfig
	logger   *logrus.Logger
	now      Clock
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	tx Transactor,
	bookings BookingStore,
	payments PaymentStore,
	methods PaymentMethodStore,
	outbox OutboxStore,
	audits AuditStore,
	gateway PaymentGateway,
	locker PaymentLocker,
	notifier Notifier,
	cfg *config.PaymentConfig,
	logger *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		tx:       tx,
		bookings: bookings,
		payments: payments,
		methods:  methods,
		outbox:   outbox,
		audits:   audits,
		gateway:  gateway,
		locker:   locker,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// ============================================================================
// PROCESS
// ============================================================================

// Process charges the booking's payment and, on success, confirms the
// booking in the same transaction that completes the payment.
//
// A gateway call that times out is never retried blindly: the gateway is
// asked for the charge status, and anything it cannot answer is handed to
// reconciliation.
func (s *PaymentService) Process(ctx context.Context, touristID uuid.UUID, req *models.ProcessPaymentRequest) (*models.ProcessPaymentResult, error) {
	// 1. Validate request
	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		return nil, models.NewValidationError("booking_id must be a valid UUID")
	}
	method := req.Method
	if method == "" {
		method = models.PaymentMethodCard
	}
	switch method {
	case models.PaymentMethodCard:
		if req.CardDetails == nil || (req.CardDetails.Number == "" && req.CardDetails.Token == "") {
			return nil, models.NewValidationError("card_details are required for card payments")
		}
	case models.PaymentMethodWallet:
	default:
		return nil, models.NewValidationError("unsupported payment method: %s", method)
	}

	// 2. One attempt per booking at a time
	release, ok, err := s.locker.Acquire(ctx, bookingID.String(), s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking for payment: %w", err)
	}
	if !ok {
		return nil, models.NewConflictError("a payment for this booking is already in progress")
	}
	defer release()

	// 3. Preconditions
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil || booking.TouristID != touristID {
		return nil, models.NewNotFoundError("booking")
	}
	payment, err := s.payments.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil {
		return nil, models.NewNotFoundError("payment")
	}

	if payment.Status == models.PaymentStatusCompleted {
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventDuplicateAttempt, models.PaymentSourceUser).
			ForPayment(payment).
			SetPaymentStatus(string(payment.Status)))
		return nil, models.NewAlreadyPaidError()
	}
	if booking.Status != models.BookingStatusPending {
		return nil, models.NewInvalidTransitionError(booking.Status, models.BookingStatusConfirmed)
	}
	if payment.NeedsReconciliation {
		return nil, models.NewReconciliationRequiredError(nil)
	}

	// 4. Record the attempt before the gateway sees it
	reference := GatewayReference(req.CardDetails)
	attemptedAt := s.now()
	if err := s.payments.MarkAttempted(ctx, payment.ID, method, reference, attemptedAt); err != nil {
		return nil, err
	}
	payment.Method = method
	payment.AttemptedAt = &attemptedAt
	payment.GatewayReference = reference

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceUser).
		ForPayment(payment).
		SetPaymentStatus(string(payment.Status)))

	// From here on the gateway may have taken money; the remaining writes
	// must not be abandoned because the client went away.
	ctx = context.WithoutCancel(ctx)

	// 5. Charge
	chargeReq := ChargeRequest{
		IdempotencyKey: payment.IdempotencyKey,
		BookingID:      bookingID,
		Amount:         payment.Amount,
		Currency:       s.config.Currency,
		Method:         method,
		Card:           req.CardDetails,
		Description:    fmt.Sprintf("Trip booking %s", bookingID),
	}
	start := time.Now()
	result, chargeErr := s.charge(ctx, chargeReq)

	var transactionID string
	switch {
	case chargeErr == nil:
		transactionID = result.TransactionID
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventGatewayResponse, models.PaymentSourceGateway).
			ForPayment(payment).
			SetTransactionID(transactionID).
			SetResponsePayload(result.Raw).
			SetProcessingTime(start))

	case IsDecline(chargeErr):
		var decline *DeclineError
		errors.As(chargeErr, &decline)
		return nil, s.fail(ctx, payment, decline.Reason, decline.Raw)

	default:
		// 6. Indeterminate: ask before deciding
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"payment_id": payment.ID,
			"gateway":    s.gateway.Name(),
			"error":      chargeErr.Error(),
		}).Warn("Gateway charge outcome unknown, querying status")

		st, err := s.status(ctx, payment)
		if err != nil {
			return nil, s.requireReconciliation(ctx, payment, fmt.Errorf("status query failed after %v: %w", chargeErr, err))
		}
		switch st.Outcome {
		case ChargeSucceeded:
			if st.Amount != nil && *st.Amount != payment.Amount {
				return nil, s.requireReconciliation(ctx, payment, fmt.Errorf("gateway charged %s, expected %s", st.Amount, payment.Amount))
			}
			transactionID = st.TransactionID
		case ChargeFailed:
			reason := st.Reason
			if reason == "" {
				reason = "payment was declined"
			}
			return nil, s.fail(ctx, payment, reason, st.Raw)
		default:
			// not_found right after a timeout may still be in flight at
			// the gateway; reconciliation clears it once the grace passes
			return nil, s.requireReconciliation(ctx, payment, chargeErr)
		}
	}

	// 7. Settle payment + booking atomically
	var saved *models.SavedPaymentMethod
	if req.SavePaymentMethod && req.CardDetails != nil && req.CardDetails.Last4() != "" {
		saved = savedMethodFrom(touristID, req.CardDetails, s.now())
	}

	outcome, err := s.settle(ctx, bookingID, transactionID, saved)
	if err != nil {
		if models.IsKind(err, models.KindAlreadyPaid) {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{
			"booking_id":     bookingID,
			"payment_id":     payment.ID,
			"transaction_id": transactionID,
			"error":          err.Error(),
		}).Error("Charge succeeded but settlement failed")
		return nil, s.requireReconciliation(ctx, payment, err)
	}

	if outcome.refundDue != nil {
		metrics.PaymentsProcessed.WithLabelValues("refund_due").Inc()
		return nil, &models.AppError{
			Kind:    models.KindInvalidTransition,
			Message: "booking was cancelled while the payment was processing, the charge will be refunded",
		}
	}

	audit := models.NewPaymentAudit(models.PaymentEventSuccess, models.PaymentSourceGateway).
		ForPayment(outcome.payment).
		SetPaymentStatus(string(models.PaymentStatusCompleted)).
		SetTransactionID(transactionID).
		SetProcessingTime(start)
	audit.SetAmounts(payment.Amount, outcome.payment.Amount)
	s.audit(ctx, audit)

	metrics.PaymentsProcessed.WithLabelValues("succeeded").Inc()
	metrics.BookingTransitions.WithLabelValues(string(models.BookingStatusPending), string(models.BookingStatusConfirmed)).Inc()
	s.logger.WithFields(logrus.Fields{
		"booking_id":     bookingID,
		"payment_id":     payment.ID,
		"transaction_id": transactionID,
		"amount":         payment.Amount.String(),
		"gateway":        s.gateway.Name(),
	}).Info("Payment completed and booking confirmed")

	// 8. Notify
	s.notifier.PaymentCompleted(ctx, outcome.booking, outcome.payment)

	return &models.ProcessPaymentResult{
		PaymentID:     payment.ID,
		BookingID:     bookingID,
		TransactionID: transactionID,
		Status:        models.PaymentStatusCompleted,
		Amount:        payment.Amount,
	}, nil
}

// charge calls the gateway with the configured timeout
func (s *PaymentService) charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.GatewayDuration.WithLabelValues(s.gateway.Name(), "charge").Observe(time.Since(start).Seconds())
	}()
	return s.gateway.Charge(ctx, req)
}

// status asks the gateway what happened to the payment's last charge
func (s *PaymentService) status(ctx context.Context, p *models.Payment) (*ChargeStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()

	start := time.Now()
	q := StatusQuery{IdempotencyKey: p.IdempotencyKey}
	if p.GatewayReference != nil {
		q.Reference = *p.GatewayReference
	}
	st, err := s.gateway.Status(ctx, q)
	metrics.GatewayDuration.WithLabelValues(s.gateway.Name(), "status").Observe(time.Since(start).Seconds())

	audit := models.NewPaymentAudit(models.PaymentEventStatusCheck, models.PaymentSourceGateway).
		ForPayment(p).
		SetError(err).
		SetProcessingTime(start)
	if st != nil {
		audit.SetPaymentStatus(string(st.Outcome)).
			SetTransactionID(st.TransactionID).
			SetResponsePayload(st.Raw)
		if st.Amount != nil {
			audit.SetAmounts(p.Amount, *st.Amount)
		}
	}
	s.audit(ctx, audit)

	return st, err
}

// ============================================================================
// SETTLEMENT
// ============================================================================

type settleOutcome struct {
	booking *models.Booking
	payment *models.Payment
	// set when the booking was cancelled before the charge could settle
	refundDue *models.Money
}

// settle completes the payment and confirms the booking in one
// transaction. A booking that was cancelled meanwhile keeps its status; the
// payment is still completed so the ledger matches the gateway, and the
// amount owed back is recorded for a manual refund.
func (s *PaymentService) settle(ctx context.Context, bookingID uuid.UUID, transactionID string, saved *models.SavedPaymentMethod) (*settleOutcome, error) {
	now := s.now()
	out := &settleOutcome{}

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		// booking row first, like Cancel and Transition
		b, err := s.bookings.GetByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b == nil {
			return models.NewNotFoundError("booking")
		}
		p, err := s.payments.GetByBookingIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if p == nil {
			return models.NewNotFoundError("payment")
		}
		if p.Status == models.PaymentStatusCompleted {
			return models.NewAlreadyPaidError()
		}

		ok, err := s.payments.MarkCompleted(ctx, models.Settlement{
			PaymentID:     p.ID,
			BookingID:     bookingID,
			TransactionID: transactionID,
			ProcessedAt:   now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return models.NewAlreadyPaidError()
		}
		p.Status = models.PaymentStatusCompleted
		p.TransactionID = &transactionID
		p.ProcessedAt = &now
		p.NeedsReconciliation = false
		out.payment = p
		out.booking = b

		if b.Status == models.BookingStatusCancelled {
			refund := b.TotalAmount
			if b.CancellationFee != nil {
				refund -= *b.CancellationFee
			}
			if refund < 0 {
				refund = 0
			}
			if err := s.payments.SetRefundDue(ctx, p.ID, refund, now); err != nil {
				return err
			}
			p.RefundAmount = &refund
			out.refundDue = &refund

			audit := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceSystem).
				ForPayment(p).
				SetPaymentStatus(string(p.Status)).
				SetTransactionID(transactionID)
			audit.ExpectedAmount = &refund
			msg := "booking cancelled before charge settled"
			audit.ErrorMessage = &msg
			return s.audits.Log(ctx, audit)
		}

		if b.Status != models.BookingStatusPending {
			return models.NewInvalidTransitionError(b.Status, models.BookingStatusConfirmed)
		}
		ok, err = s.bookings.UpdateStatus(ctx, models.StatusChange{
			BookingID: bookingID,
			From:      models.BookingStatusPending,
			To:        models.BookingStatusConfirmed,
			At:        now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return models.NewInvalidTransitionError(b.Status, models.BookingStatusConfirmed)
		}
		applyStatus(b, models.BookingStatusConfirmed, now)

		if saved != nil {
			if _, err := s.methods.Insert(ctx, saved); err != nil {
				return err
			}
		}

		return recordBookingEvent(ctx, s.outbox, b, models.BookingEventConfirmed, now)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fail records a definitive decline
func (s *PaymentService) fail(ctx context.Context, p *models.Payment, reason string, raw map[string]interface{}) error {
	if err := s.payments.MarkFailed(ctx, p.ID, reason, s.now()); err != nil {
		s.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to record declined payment")
	}

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceGateway).
		ForPayment(p).
		SetPaymentStatus(string(models.PaymentStatusFailed)).
		SetError(errors.New(reason)).
		SetResponsePayload(raw))

	metrics.PaymentsProcessed.WithLabelValues("failed").Inc()
	s.logger.WithFields(logrus.Fields{
		"booking_id": p.BookingID,
		"payment_id": p.ID,
		"reason":     reason,
	}).Warn("Payment declined")

	return models.NewPaymentError(reason)
}

// requireReconciliation flags the payment so no fresh charge is attempted
// until its gateway state is known. Writes here are best effort.
func (s *PaymentService) requireReconciliation(ctx context.Context, p *models.Payment, cause error) error {
	metrics.ReconciliationRequired.Inc()
	metrics.PaymentsProcessed.WithLabelValues("reconciliation_required").Inc()

	s.logger.WithFields(logrus.Fields{
		"booking_id": p.BookingID,
		"payment_id": p.ID,
		"error":      fmt.Sprint(cause),
	}).Error("Payment requires reconciliation")

	s.audit(ctx, models.NewPaymentAudit(models.PaymentEventReconciliationRequired, models.PaymentSourceSystem).
		ForPayment(p).
		SetPaymentStatus(string(p.Status)).
		SetError(cause))

	if err := s.payments.FlagForReconciliation(ctx, p.ID, s.now()); err != nil {
		s.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to flag payment for reconciliation")
	}
	return models.NewReconciliationRequiredError(cause)
}

// audit writes an audit row outside any transaction; failures are logged
// and never fail the payment
func (s *PaymentService) audit(ctx context.Context, a *models.PaymentAudit) {
	a.SetRequestMeta(models.RequestMetaFrom(ctx))
	if err := s.audits.Log(ctx, a); err != nil {
		s.logger.WithError(err).WithField("event_type", a.EventType).Warn("Failed to write payment audit")
	}
}

func savedMethodFrom(touristID uuid.UUID, card *models.CardDetails, at time.Time) *models.SavedPaymentMethod {
	cardType := card.CardType
	if cardType == "" {
		cardType = "card"
	}
	return &models.SavedPaymentMethod{
		ID:          uuid.New(),
		TouristID:   touristID,
		CardType:    cardType,
		Last4:       card.Last4(),
		ExpiryMonth: card.ExpiryMonth,
		ExpiryYear:  card.ExpiryYear,
		CreatedAt:   at,
	}
}

// ============================================================================
// SAVED PAYMENT METHODS
// ============================================================================

// ListPaymentMethods returns the tourist's saved cards, default first
func (s *PaymentService) ListPaymentMethods(ctx context.Context, touristID uuid.UUID) ([]models.SavedPaymentMethod, error) {
	methods, err := s.methods.ListByTourist(ctx, touristID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	return methods, nil
}

// SetDefaultPaymentMethod makes id the tourist's only default method
func (s *PaymentService) SetDefaultPaymentMethod(ctx context.Context, touristID, id uuid.UUID) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.methods.SetDefault(ctx, touristID, id)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewNotFoundError("payment method")
		}
		return nil
	})
}

// DeletePaymentMethod removes a saved method; if it was the default the
// most recent remaining method becomes the default
func (s *PaymentService) DeletePaymentMethod(ctx context.Context, touristID, id uuid.UUID) error {
	return s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		ok, err := s.methods.Delete(ctx, touristID, id)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewNotFoundError("payment method")
		}
		return nil
	})
}
