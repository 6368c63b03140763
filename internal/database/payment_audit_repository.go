package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/models"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     Querier
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db Querier, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, payment_id, booking_id,
			event_type, event_source,
			expected_amount, received_amount, amounts_match,
			payment_status, gateway_transaction_id, response_payload, error_message,
			processing_time_ms, idempotency_key,
			ip_address, user_agent, device_type, platform, request_id,
			created_at
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14,
			$15, $16, $17, $18, $19,
			$20
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.PaymentID, audit.BookingID,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.AmountsMatch,
		audit.PaymentStatus, audit.GatewayTransactionID, audit.ResponsePayload, audit.ErrorMessage,
		audit.ProcessingTimeMs, audit.IdempotencyKey,
		audit.IPAddress, audit.UserAgent, audit.DeviceType, audit.Platform, audit.RequestID,
		audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"audit_id":   audit.ID,
			"event_type": audit.EventType,
			"error":      err.Error(),
		}).Error("Failed to write payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"payment_id": audit.PaymentID,
	}).Debug("Payment audit logged")

	return nil
}

// ListByPayment returns the audit trail of a payment, oldest first
func (r *PaymentAuditRepository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAudit, error) {
	query := `
		SELECT id, payment_id, booking_id, event_type, event_source,
		       expected_amount, received_amount, amounts_match,
		       payment_status, gateway_transaction_id, response_payload, error_message,
		       processing_time_ms, idempotency_key,
		       ip_address, user_agent, device_type, platform, request_id, created_at
		FROM payment_audits
		WHERE payment_id = $1
		ORDER BY created_at ASC`

	audits := []models.PaymentAudit{}
	if err := r.db.SelectContext(ctx, &audits, query, paymentID); err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}
	return audits, nil
}
