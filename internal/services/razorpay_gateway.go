package services

import (
	"context"
	"fmt"
	"time"

	"github.com/razorpay/razorpay-go"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/models"
)

// RazorpayPayments is the part of the Razorpay SDK the gateway uses
type RazorpayPayments interface {
	Capture(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway captures payments the client already authorized through
// Razorpay Checkout. The card token is the Razorpay payment id.
type RazorpayGateway struct {
	payments RazorpayPayments
	logger   *logrus.Logger
}

// NewRazorpayGateway creates a gateway backed by the Razorpay SDK client
func NewRazorpayGateway(keyID, keySecret string, logger *logrus.Logger) *RazorpayGateway {
	client := razorpay.NewClient(keyID, keySecret)
	return NewRazorpayGatewayWith(client.Payment, logger)
}

// NewRazorpayGatewayWith creates a gateway over any RazorpayPayments implementation
func NewRazorpayGatewayWith(payments RazorpayPayments, logger *logrus.Logger) *RazorpayGateway {
	return &RazorpayGateway{payments: payments, logger: logger}
}

func (g *RazorpayGateway) Name() string { return "razorpay" }

func (g *RazorpayGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Card == nil || req.Card.Token == "" {
		return nil, &DeclineError{Reason: "razorpay payment id is required"}
	}
	paymentID := req.Card.Token

	resp, err := callWithContext(ctx, func() (map[string]interface{}, error) {
		return g.payments.Capture(paymentID, int(req.Amount), map[string]interface{}{
			"currency": req.Currency,
		}, nil)
	})
	if err == nil {
		if status, _ := resp["status"].(string); status == "captured" {
			return &ChargeResult{TransactionID: paymentID, Raw: resp}, nil
		}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, ctx.Err())
	}

	// The capture response is not conclusive on its own; ask Razorpay what
	// state the payment is in now.
	st, fetchErr := g.Status(ctx, StatusQuery{IdempotencyKey: req.IdempotencyKey, Reference: paymentID})
	if fetchErr != nil {
		if err != nil {
			return nil, fmt.Errorf("razorpay capture failed: %w", err)
		}
		return nil, fmt.Errorf("razorpay capture returned no status: %w", fetchErr)
	}

	switch st.Outcome {
	case ChargeSucceeded:
		if st.Amount != nil && *st.Amount != req.Amount {
			return nil, &DeclineError{Reason: fmt.Sprintf("captured amount %s does not match %s", st.Amount, req.Amount), Raw: st.Raw}
		}
		return &ChargeResult{TransactionID: st.TransactionID, Raw: st.Raw}, nil
	case ChargeFailed, ChargeNotFound:
		reason := st.Reason
		if reason == "" && err != nil {
			reason = err.Error()
		}
		if reason == "" {
			reason = "payment was not captured"
		}
		return nil, &DeclineError{Reason: reason, Raw: st.Raw}
	default:
		return nil, fmt.Errorf("razorpay payment %s is still processing", paymentID)
	}
}

func (g *RazorpayGateway) Status(ctx context.Context, q StatusQuery) (*ChargeStatus, error) {
	if q.Reference == "" {
		return &ChargeStatus{Outcome: ChargeNotFound}, nil
	}

	resp, err := callWithContext(ctx, func() (map[string]interface{}, error) {
		return g.payments.Fetch(q.Reference, nil, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("razorpay fetch failed: %w", err)
	}

	st := &ChargeStatus{TransactionID: q.Reference, Raw: resp}
	if amount, ok := resp["amount"].(float64); ok {
		m := models.Money(int64(amount))
		st.Amount = &m
	}
	if desc, ok := resp["error_description"].(string); ok {
		st.Reason = desc
	}

	status, _ := resp["status"].(string)
	switch status {
	case "captured":
		st.Outcome = ChargeSucceeded
	case "failed":
		st.Outcome = ChargeFailed
	case "authorized":
		// authorized but never captured; Razorpay releases the hold itself
		st.Outcome = ChargeNotFound
	default:
		st.Outcome = ChargeUnknown
	}

	g.logger.WithFields(logrus.Fields{
		"payment_id": q.Reference,
		"status":     status,
	}).Debug("Razorpay payment status")

	return st, nil
}

// callWithContext runs a blocking SDK call and gives up when ctx is done.
// The call itself keeps running in the background.
func callWithContext(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	type result struct {
		resp map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := fn()
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Minute):
		return nil, ErrGatewayTimeout
	}
}
