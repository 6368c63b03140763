package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated              PaymentEventType = "payment_initiated"
	PaymentEventGatewayResponse        PaymentEventType = "gateway_response"
	PaymentEventStatusCheck            PaymentEventType = "status_check"
	PaymentEventSuccess                PaymentEventType = "payment_success"
	PaymentEventFailed                 PaymentEventType = "payment_failed"
	PaymentEventDuplicateAttempt       PaymentEventType = "duplicate_attempt"
	PaymentEventReconciliationRequired PaymentEventType = "reconciliation_required"
	PaymentEventReconciliationResolved PaymentEventType = "reconciliation_resolved"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
	PaymentEventRefundDue              PaymentEventType = "refund_due"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceGateway PaymentEventSource = "gateway"
	PaymentSourceUser    PaymentEventSource = "user"
	PaymentSourceSystem  PaymentEventSource = "system"
)

// JSONB is a free-form JSON object column
type JSONB map[string]interface{}

// Value returns JSON as string for compatibility with pgx simple protocol mode
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	}
	return nil
}

// PaymentAudit is an immutable audit log entry for a payment event
type PaymentAudit struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	PaymentID *uuid.UUID `json:"payment_id,omitempty" db:"payment_id"`
	BookingID *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	ExpectedAmount *Money `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *Money `json:"received_amount,omitempty" db:"received_amount"`
	AmountsMatch   *bool  `json:"amounts_match,omitempty" db:"amounts_match"`

	PaymentStatus        *string `json:"payment_status,omitempty" db:"payment_status"`
	GatewayTransactionID *string `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`
	ResponsePayload      JSONB   `json:"response_payload,omitempty" db:"response_payload"`
	ErrorMessage         *string `json:"error_message,omitempty" db:"error_message"`

	ProcessingTimeMs *int    `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IdempotencyKey   *string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType *string `json:"device_type,omitempty" db:"device_type"`
	Platform   *string `json:"platform,omitempty" db:"platform"`
	RequestID  *string `json:"request_id,omitempty" db:"request_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// ForPayment ties the entry to a payment and its booking
func (pa *PaymentAudit) ForPayment(p *Payment) *PaymentAudit {
	if p == nil {
		return pa
	}
	paymentID, bookingID := p.ID, p.BookingID
	pa.PaymentID = &paymentID
	pa.BookingID = &bookingID
	key := p.IdempotencyKey
	if key != "" {
		pa.IdempotencyKey = &key
	}
	return pa
}

// SetAmounts records expected and received amounts and whether they match
func (pa *PaymentAudit) SetAmounts(expected, received Money) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

func (pa *PaymentAudit) SetPaymentStatus(status string) *PaymentAudit {
	pa.PaymentStatus = &status
	return pa
}

func (pa *PaymentAudit) SetTransactionID(id string) *PaymentAudit {
	if id != "" {
		pa.GatewayTransactionID = &id
	}
	return pa
}

func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	return pa
}

func (pa *PaymentAudit) SetResponsePayload(payload map[string]interface{}) *PaymentAudit {
	pa.ResponsePayload = JSONB(payload)
	return pa
}

// SetProcessingTime records the elapsed time since startTime
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}

// SetRequestMeta copies request metadata onto the entry
func (pa *PaymentAudit) SetRequestMeta(meta RequestMeta) *PaymentAudit {
	set := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	set(&pa.IPAddress, meta.IPAddress)
	set(&pa.UserAgent, meta.UserAgent)
	set(&pa.DeviceType, meta.DeviceType)
	set(&pa.Platform, meta.Platform)
	set(&pa.RequestID, meta.RequestID)
	return pa
}

// RequestMeta describes the HTTP request that triggered a service call
type RequestMeta struct {
	RequestID  string
	IPAddress  string
	UserAgent  string
	DeviceType string
	Platform   string
}

type requestMetaKey struct{}

// WithRequestMeta attaches request metadata to ctx
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the metadata attached to ctx, if any
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}
