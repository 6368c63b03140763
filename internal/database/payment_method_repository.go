package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tripmarket/booking-core/internal/models"
)

// PaymentMethodRepository handles saved payment methods
type PaymentMethodRepository struct {
	db Querier
}

// NewPaymentMethodRepository creates a new PaymentMethodRepository
func NewPaymentMethodRepository(db Querier) *PaymentMethodRepository {
	return &PaymentMethodRepository{db: db}
}

const paymentMethodColumns = `id, tourist_id, card_type, last4, expiry_month, expiry_year, is_default, created_at`

// ListByTourist returns a tourist's saved methods, default first
func (r *PaymentMethodRepository) ListByTourist(ctx context.Context, touristID uuid.UUID) ([]models.SavedPaymentMethod, error) {
	query := `
		SELECT ` + paymentMethodColumns + `
		FROM saved_payment_methods
		WHERE tourist_id = $1
		ORDER BY is_default DESC, created_at DESC`

	methods := []models.SavedPaymentMethod{}
	if err := r.db.SelectContext(ctx, &methods, query, touristID); err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	return methods, nil
}

// Insert saves a method unless one with the same last4 already exists. The
// new method becomes the default only when the tourist has no default yet.
// It reports whether a row was inserted.
func (r *PaymentMethodRepository) Insert(ctx context.Context, m *models.SavedPaymentMethod) (bool, error) {
	query := `
		INSERT INTO saved_payment_methods (
			id, tourist_id, card_type, last4, expiry_month, expiry_year, is_default, created_at
		)
		SELECT $1, $2, $3, $4, $5, $6,
		       NOT EXISTS (SELECT 1 FROM saved_payment_methods WHERE tourist_id = $2 AND is_default),
		       $7
		WHERE NOT EXISTS (SELECT 1 FROM saved_payment_methods WHERE tourist_id = $2 AND last4 = $4)
		RETURNING is_default`

	var isDefault bool
	err := r.db.GetContext(ctx, &isDefault, query,
		m.ID, m.TouristID, m.CardType, m.Last4, m.ExpiryMonth, m.ExpiryYear, m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to save payment method: %w", err)
	}
	m.IsDefault = isDefault
	return true, nil
}

// SetDefault makes id the tourist's only default. Must be called inside a transaction.
// It returns false if the method does not belong to the tourist.
func (r *PaymentMethodRepository) SetDefault(ctx context.Context, touristID, id uuid.UUID) (bool, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE saved_payment_methods SET is_default = FALSE WHERE tourist_id = $1 AND is_default AND id <> $2`,
		touristID, id,
	); err != nil {
		return false, fmt.Errorf("failed to clear default payment method: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE saved_payment_methods SET is_default = TRUE WHERE tourist_id = $1 AND id = $2`,
		touristID, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set default payment method: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

// Delete removes a method and, if it was the default, promotes the most
// recently created remaining one. Must be called inside a transaction.
// It returns false if the method does not belong to the tourist.
func (r *PaymentMethodRepository) Delete(ctx context.Context, touristID, id uuid.UUID) (bool, error) {
	var wasDefault bool
	err := r.db.GetContext(ctx, &wasDefault,
		`DELETE FROM saved_payment_methods WHERE tourist_id = $1 AND id = $2 RETURNING is_default`,
		touristID, id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete payment method: %w", err)
	}

	if wasDefault {
		query := `
			UPDATE saved_payment_methods SET is_default = TRUE
			WHERE id = (
				SELECT id FROM saved_payment_methods
				WHERE tourist_id = $1
				ORDER BY created_at DESC
				LIMIT 1
			)`
		if _, err := r.db.ExecContext(ctx, query, touristID); err != nil {
			return false, fmt.Errorf("failed to promote default payment method: %w", err)
		}
	}
	return true, nil
}
