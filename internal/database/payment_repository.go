package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripmarket/booking-core/internal/models"
)

// PaymentRepository handles payment ledger operations
type PaymentRepository struct {
	db Querier
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db Querier) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, booking_id, method, amount, status, transaction_id, error_message,
	idempotency_key, attempted_at, gateway_reference, needs_reconciliation, refund_amount,
	processed_at, created_at, updated_at`

// Insert stores a new payment record
func (r *PaymentRepository) Insert(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (
			id, booking_id, method, amount, status, idempotency_key, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.BookingID, p.Method, p.Amount, p.Status, p.IdempotencyKey, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return models.NewConflictError("payment already exists for booking %s", p.BookingID)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByBookingID returns the payment of a booking, or nil if none
func (r *PaymentRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1`, bookingID)
}

// GetByBookingIDForUpdate row-locks the payment. Must be called inside a transaction.
func (r *PaymentRepository) GetByBookingIDForUpdate(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1 FOR UPDATE`, bookingID)
}

func (r *PaymentRepository) get(ctx context.Context, query string, arg interface{}) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.GetContext(ctx, &p, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// MarkAttempted records that a gateway call is about to be made, along with
// the gateway-side reference if the method has one
func (r *PaymentRepository) MarkAttempted(ctx context.Context, paymentID uuid.UUID, method string, reference *string, at time.Time) error {
	query := `
		UPDATE payments
		SET status = 'pending', attempted_at = $2, method = $3, gateway_reference = $4,
		    error_message = NULL, updated_at = $2
		WHERE id = $1 AND status <> 'completed'`

	if _, err := r.db.ExecContext(ctx, query, paymentID, at, method, reference); err != nil {
		return fmt.Errorf("failed to mark payment attempt: %w", err)
	}
	return nil
}

// MarkCompleted settles a payment. It returns false if the payment was already completed.
func (r *PaymentRepository) MarkCompleted(ctx context.Context, s models.Settlement) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'completed', transaction_id = $2, processed_at = $3,
		    error_message = NULL, needs_reconciliation = FALSE, updated_at = $3
		WHERE id = $1 AND status <> 'completed'`

	result, err := r.db.ExecContext(ctx, query, s.PaymentID, s.TransactionID, s.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

// MarkFailed records a gateway decline. Completed payments are never downgraded.
func (r *PaymentRepository) MarkFailed(ctx context.Context, paymentID uuid.UUID, message string, at time.Time) error {
	query := `
		UPDATE payments
		SET status = 'failed', error_message = $2, processed_at = $3,
		    needs_reconciliation = FALSE, updated_at = $3
		WHERE id = $1 AND status <> 'completed'`

	if _, err := r.db.ExecContext(ctx, query, paymentID, message, at); err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return nil
}

// FlagForReconciliation marks a payment whose gateway outcome is not reflected locally
func (r *PaymentRepository) FlagForReconciliation(ctx context.Context, paymentID uuid.UUID, at time.Time) error {
	query := `
		UPDATE payments
		SET needs_reconciliation = TRUE, updated_at = $2
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, paymentID, at); err != nil {
		return fmt.Errorf("failed to flag payment for reconciliation: %w", err)
	}
	return nil
}

// ClearAttempt resets a payment the gateway never saw, so the tourist can pay again
func (r *PaymentRepository) ClearAttempt(ctx context.Context, paymentID uuid.UUID, at time.Time) error {
	query := `
		UPDATE payments
		SET attempted_at = NULL, needs_reconciliation = FALSE, updated_at = $2
		WHERE id = $1 AND status = 'pending'`

	if _, err := r.db.ExecContext(ctx, query, paymentID, at); err != nil {
		return fmt.Errorf("failed to clear payment attempt: %w", err)
	}
	return nil
}

// SetRefundDue records the amount owed back to the tourist after a cancellation
func (r *PaymentRepository) SetRefundDue(ctx context.Context, paymentID uuid.UUID, amount models.Money, at time.Time) error {
	query := `UPDATE payments SET refund_amount = $2, updated_at = $3 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, paymentID, amount, at); err != nil {
		return fmt.Errorf("failed to record refund amount: %w", err)
	}
	return nil
}

// ListForReconciliation returns flagged payments and pending payments whose
// gateway attempt started before staleBefore, oldest first
func (r *PaymentRepository) ListForReconciliation(ctx context.Context, staleBefore time.Time, limit int) ([]models.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE needs_reconciliation
		   OR (status = 'pending' AND attempted_at IS NOT NULL AND attempted_at < $1)
		ORDER BY attempted_at ASC NULLS FIRST
		LIMIT $2`

	payments := []models.Payment{}
	if err := r.db.SelectContext(ctx, &payments, query, staleBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list payments for reconciliation: %w", err)
	}
	return payments, nil
}
