package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tripmarket/booking-core/internal/models"
)

// ChargeRequest is what the orchestrator asks a gateway to collect
type ChargeRequest struct {
	IdempotencyKey string
	BookingID      uuid.UUID
	Amount         models.Money
	Currency       string
	Method         string
	Card           *models.CardDetails
	Description    string
}

// ChargeResult is a gateway-confirmed successful charge
type ChargeResult struct {
	TransactionID string
	Raw           map[string]interface{}
}

// ChargeOutcome is the gateway-side state of a charge
type ChargeOutcome string

const (
	ChargeSucceeded ChargeOutcome = "succeeded"
	ChargeFailed    ChargeOutcome = "failed"
	ChargeNotFound  ChargeOutcome = "not_found" // the gateway never saw the charge
	ChargeUnknown   ChargeOutcome = "unknown"   // still processing or not answerable
)

// StatusQuery identifies a previous charge
type StatusQuery struct {
	IdempotencyKey string
	Reference      string
}

// ChargeStatus answers a StatusQuery
type ChargeStatus struct {
	Outcome       ChargeOutcome
	TransactionID string
	Amount        *models.Money
	Reason        string
	Raw           map[string]interface{}
}

// PaymentGateway is the external payment processor.
//
// Charge returns a *DeclineError when the gateway definitively refused the
// charge. Any other error (timeout, transport, 5xx) leaves the outcome
// unknown and the caller must ask Status before deciding.
type PaymentGateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Status(ctx context.Context, q StatusQuery) (*ChargeStatus, error)
}

// DeclineError is a definitive gateway refusal
type DeclineError struct {
	Reason string
	Raw    map[string]interface{}
}

func (e *DeclineError) Error() string {
	return "payment declined: " + e.Reason
}

// IsDecline reports whether err is a definitive refusal
func IsDecline(err error) bool {
	var d *DeclineError
	return errors.As(err, &d)
}

// ErrGatewayTimeout reports a charge whose response never arrived
var ErrGatewayTimeout = errors.New("payment gateway timeout")

// GatewayReference returns the gateway-side id a charge can be looked up by
// before the gateway has answered, if the method carries one
func GatewayReference(card *models.CardDetails) *string {
	if card == nil || card.Token == "" {
		return nil
	}
	ref := card.Token
	return &ref
}

// ============================================================================
// SANDBOX
// ============================================================================

// SandboxGateway is a deterministic in-process gateway for development and
// tests. Card numbers ending in 0002 are declined; numbers ending in 0119
// are charged but the response is lost, as in a network timeout.
type SandboxGateway struct {
	mu      sync.Mutex
	charges map[string]ChargeStatus
}

// NewSandboxGateway creates a new SandboxGateway
func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{charges: make(map[string]ChargeStatus)}
}

func (g *SandboxGateway) Name() string { return "sandbox" }

func (g *SandboxGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.charges[req.IdempotencyKey]; ok && prev.Outcome == ChargeSucceeded {
		return &ChargeResult{TransactionID: prev.TransactionID}, nil
	}

	number := ""
	if req.Card != nil {
		number = req.Card.Number
	}

	switch {
	case strings.HasSuffix(number, "0002"):
		g.charges[req.IdempotencyKey] = ChargeStatus{Outcome: ChargeFailed, Reason: "card_declined"}
		return nil, &DeclineError{Reason: "card_declined"}
	case strings.HasSuffix(number, "0119"):
		amount := req.Amount
		g.charges[req.IdempotencyKey] = ChargeStatus{
			Outcome:       ChargeSucceeded,
			TransactionID: sandboxTransactionID(),
			Amount:        &amount,
		}
		return nil, ErrGatewayTimeout
	default:
		amount := req.Amount
		txID := sandboxTransactionID()
		g.charges[req.IdempotencyKey] = ChargeStatus{Outcome: ChargeSucceeded, TransactionID: txID, Amount: &amount}
		return &ChargeResult{TransactionID: txID}, nil
	}
}

func (g *SandboxGateway) Status(ctx context.Context, q StatusQuery) (*ChargeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.charges[q.IdempotencyKey]
	if !ok {
		return &ChargeStatus{Outcome: ChargeNotFound}, nil
	}
	return &st, nil
}

func sandboxTransactionID() string {
	return fmt.Sprintf("sbx_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}
