package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the settlement state of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment is the ledger record of a booking's settlement (one per booking)
type Payment struct {
	ID                  uuid.UUID     `json:"id" db:"id"`
	BookingID           uuid.UUID     `json:"booking_id" db:"booking_id"`
	Method              string        `json:"method" db:"method"`
	Amount              Money         `json:"amount" db:"amount"`
	Status              PaymentStatus `json:"status" db:"status"`
	TransactionID       *string       `json:"transaction_id,omitempty" db:"transaction_id"`
	ErrorMessage        *string       `json:"error_message,omitempty" db:"error_message"`
	IdempotencyKey      string        `json:"-" db:"idempotency_key"`
	AttemptedAt         *time.Time    `json:"attempted_at,omitempty" db:"attempted_at"`
	GatewayReference    *string       `json:"gateway_reference,omitempty" db:"gateway_reference"`
	NeedsReconciliation bool          `json:"needs_reconciliation" db:"needs_reconciliation"`
	RefundAmount        *Money        `json:"refund_amount,omitempty" db:"refund_amount"`
	ProcessedAt         *time.Time    `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
}

// PaymentMethod values accepted by the orchestrator
const (
	PaymentMethodCard   = "card"
	PaymentMethodWallet = "wallet"
)

// CardDetails is the card payload forwarded to the gateway. Only Last4 and
// the expiry are ever persisted.
type CardDetails struct {
	Number      string `json:"number,omitempty"`
	Token       string `json:"token,omitempty"`
	HolderName  string `json:"holder_name,omitempty"`
	CardType    string `json:"card_type,omitempty"`
	ExpiryMonth int    `json:"expiry_month" binding:"omitempty,min=1,max=12"`
	ExpiryYear  int    `json:"expiry_year" binding:"omitempty,min=2000"`
	CVV         string `json:"cvv,omitempty"`
}

// Last4 returns the last four digits of the card number, if any
func (c *CardDetails) Last4() string {
	if c == nil || len(c.Number) < 4 {
		return ""
	}
	return c.Number[len(c.Number)-4:]
}

// ProcessPaymentRequest is the payment.process payload
type ProcessPaymentRequest struct {
	BookingID         string       `json:"booking_id" binding:"required,uuid"`
	Method            string       `json:"method" binding:"omitempty,oneof=card wallet"`
	CardDetails       *CardDetails `json:"card_details,omitempty" binding:"omitempty"`
	SavePaymentMethod bool         `json:"save_payment_method,omitempty"`
}

// ProcessPaymentResult is returned after a successful settlement
type ProcessPaymentResult struct {
	PaymentID     uuid.UUID     `json:"payment_id"`
	BookingID     uuid.UUID     `json:"booking_id"`
	TransactionID string        `json:"transaction_id"`
	Status        PaymentStatus `json:"status"`
	Amount        Money         `json:"amount"`
}

// Settlement is the set of writes committed together when a charge succeeds
type Settlement struct {
	PaymentID     uuid.UUID
	BookingID     uuid.UUID
	TransactionID string
	ProcessedAt   time.Time
}

// SavedPaymentMethod is a tourist's stored card reference
type SavedPaymentMethod struct {
	ID          uuid.UUID `json:"id" db:"id"`
	TouristID   uuid.UUID `json:"tourist_id" db:"tourist_id"`
	CardType    string    `json:"card_type" db:"card_type"`
	Last4       string    `json:"last4" db:"last4"`
	ExpiryMonth int       `json:"expiry_month" db:"expiry_month"`
	ExpiryYear  int       `json:"expiry_year" db:"expiry_year"`
	IsDefault   bool      `json:"is_default" db:"is_default"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
