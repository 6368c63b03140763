package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/models"
)

func chargeFor(card *models.CardDetails) ChargeRequest {
	return ChargeRequest{
		IdempotencyKey: uuid.NewString(),
		BookingID:      uuid.New(),
		Amount:         models.MustParseMoney("120.50"),
		Currency:       "LKR",
		Method:         models.PaymentMethodCard,
		Card:           card,
	}
}

// ============================================================================
// SANDBOX
// ============================================================================

func TestSandboxGateway(t *testing.T) {
	g := NewSandboxGateway()
	ctx := context.Background()

	t.Run("success is idempotent", func(t *testing.T) {
		req := chargeFor(&models.CardDetails{Number: "4242424242424242"})
		first, err := g.Charge(ctx, req)
		require.NoError(t, err)
		again, err := g.Charge(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.TransactionID, again.TransactionID)

		st, err := g.Status(ctx, StatusQuery{IdempotencyKey: req.IdempotencyKey})
		require.NoError(t, err)
		assert.Equal(t, ChargeSucceeded, st.Outcome)
		assert.Equal(t, req.Amount, *st.Amount)
	})

	t.Run("decline", func(t *testing.T) {
		req := chargeFor(&models.CardDetails{Number: "4000000000000002"})
		_, err := g.Charge(ctx, req)
		assert.True(t, IsDecline(err))

		st, _ := g.Status(ctx, StatusQuery{IdempotencyKey: req.IdempotencyKey})
		assert.Equal(t, ChargeFailed, st.Outcome)
	})

	t.Run("lost response", func(t *testing.T) {
		req := chargeFor(&models.CardDetails{Number: "4000000000000119"})
		_, err := g.Charge(ctx, req)
		assert.ErrorIs(t, err, ErrGatewayTimeout)
		assert.False(t, IsDecline(err))

		st, _ := g.Status(ctx, StatusQuery{IdempotencyKey: req.IdempotencyKey})
		assert.Equal(t, ChargeSucceeded, st.Outcome)
		assert.NotEmpty(t, st.TransactionID)
	})

	t.Run("unknown key", func(t *testing.T) {
		st, err := g.Status(ctx, StatusQuery{IdempotencyKey: "never-seen"})
		require.NoError(t, err)
		assert.Equal(t, ChargeNotFound, st.Outcome)
	})
}

func TestGatewayReference(t *testing.T) {
	assert.Nil(t, GatewayReference(nil))
	assert.Nil(t, GatewayReference(&models.CardDetails{Number: "4242"}))
	ref := GatewayReference(&models.CardDetails{Token: "pay_123"})
	require.NotNil(t, ref)
	assert.Equal(t, "pay_123", *ref)
}

// ============================================================================
// PAYABLE
// ============================================================================

func newTestPayable(t *testing.T, handler http.HandlerFunc) *PayableGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, _ := test.NewNullLogger()
	return NewPayableGateway(&config.PaymentConfig{
		MerchantKey:   "MERCHANT",
		MerchantToken: "secret-token",
		BaseURL:       server.URL,
	}, logger)
}

func TestPayableGateway_Charge(t *testing.T) {
	card := &models.CardDetails{Token: "tok_abc"}

	t.Run("success", func(t *testing.T) {
		var got payableChargeRequest
		g := newTestPayable(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/charge", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"status":"success","transactionId":"PAY123"}`))
		})

		req := chargeFor(card)
		res, err := g.Charge(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "PAY123", res.TransactionID)

		assert.Equal(t, "MERCHANT", got.MerchantKey)
		assert.Equal(t, req.IdempotencyKey, got.InvoiceID)
		assert.Equal(t, "120.50", got.Amount)
		assert.Equal(t, "tok_abc", got.CardToken)
		assert.Equal(t, g.CheckValue(req.IdempotencyKey, "120.50", "LKR"), got.CheckValue)
		assert.Len(t, got.CheckValue, 128)
	})

	t.Run("declined", func(t *testing.T) {
		g := newTestPayable(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"status":"error","errorCode":"INSUFFICIENT_FUNDS"}`))
		})
		_, err := g.Charge(context.Background(), chargeFor(card))
		require.True(t, IsDecline(err))
		var decline *DeclineError
		require.True(t, errors.As(err, &decline))
		assert.Equal(t, "INSUFFICIENT_FUNDS", decline.Reason)
	})

	t.Run("server error is not a decline", func(t *testing.T) {
		g := newTestPayable(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"status":"error","message":"upstream"}`))
		})
		_, err := g.Charge(context.Background(), chargeFor(card))
		require.Error(t, err)
		assert.False(t, IsDecline(err))
	})

	t.Run("timeout", func(t *testing.T) {
		done := make(chan struct{})
		g := newTestPayable(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-done:
			case <-r.Context().Done():
			}
		})
		t.Cleanup(func() { close(done) })

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := g.Charge(ctx, chargeFor(card))
		assert.ErrorIs(t, err, ErrGatewayTimeout)
	})

	t.Run("missing token", func(t *testing.T) {
		g := newTestPayable(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("gateway must not be called")
		})
		_, err := g.Charge(context.Background(), chargeFor(&models.CardDetails{Number: "4242424242424242"}))
		assert.True(t, IsDecline(err))
	})
}

func TestPayableGateway_Status(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		outcome ChargeOutcome
	}{
		{"success", 200, `{"status":"ok","paymentStatus":"SUCCESS","amount":"120.50","transactionId":"PAY9"}`, ChargeSucceeded},
		{"failed", 200, `{"status":"ok","paymentStatus":"FAILED","message":"expired card"}`, ChargeFailed},
		{"pending", 200, `{"status":"ok","paymentStatus":"PENDING"}`, ChargeUnknown},
		{"not found body", 200, `{"status":"ok","paymentStatus":"NOT_FOUND"}`, ChargeNotFound},
		{"not found code", 404, `{}`, ChargeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestPayable(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/check-status", r.URL.Path)
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			})
			st, err := g.Status(context.Background(), StatusQuery{IdempotencyKey: "inv-1"})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, st.Outcome)
			if tt.outcome == ChargeSucceeded {
				assert.Equal(t, "PAY9", st.TransactionID)
				assert.Equal(t, models.MustParseMoney("120.50"), *st.Amount)
			}
		})
	}

	g := newTestPayable(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := g.Status(context.Background(), StatusQuery{IdempotencyKey: "inv-1"})
	assert.Error(t, err)
}

func TestPayableGateway_StatusURL(t *testing.T) {
	logger, _ := test.NewNullLogger()
	g := NewPayableGateway(&config.PaymentConfig{Environment: "production"}, logger)
	assert.Equal(t, "https://ipgpayment.payable.lk/check-status/pro", g.statusURL())

	g = NewPayableGateway(&config.PaymentConfig{Environment: "nowhere"}, logger)
	assert.Equal(t, "https://sandboxipgpayment.payable.lk/check-status/sandbox", g.statusURL())
}

// ============================================================================
// RAZORPAY
// ============================================================================

type fakeRazorpay struct {
	captureResp map[string]interface{}
	captureErr  error
	fetchResp   map[string]interface{}
	fetchErr    error

	capturedID     string
	capturedAmount int
	fetches        int
}

func (f *fakeRazorpay) Capture(paymentID string, amount int, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.capturedID, f.capturedAmount = paymentID, amount
	return f.captureResp, f.captureErr
}

func (f *fakeRazorpay) Fetch(_ string, _ map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	f.fetches++
	return f.fetchResp, f.fetchErr
}

func TestRazorpayGateway_Charge(t *testing.T) {
	logger, _ := test.NewNullLogger()
	card := &models.CardDetails{Token: "pay_ABC"}

	t.Run("captured", func(t *testing.T) {
		rp := &fakeRazorpay{captureResp: map[string]interface{}{"status": "captured"}}
		g := NewRazorpayGatewayWith(rp, logger)

		res, err := g.Charge(context.Background(), chargeFor(card))
		require.NoError(t, err)
		assert.Equal(t, "pay_ABC", res.TransactionID)
		assert.Equal(t, "pay_ABC", rp.capturedID)
		assert.Equal(t, 12050, rp.capturedAmount)
		assert.Zero(t, rp.fetches)
	})

	t.Run("capture error but already captured", func(t *testing.T) {
		rp := &fakeRazorpay{
			captureErr: errors.New("This payment has already been captured"),
			fetchResp:  map[string]interface{}{"status": "captured", "amount": float64(12050)},
		}
		g := NewRazorpayGatewayWith(rp, logger)

		res, err := g.Charge(context.Background(), chargeFor(card))
		require.NoError(t, err)
		assert.Equal(t, "pay_ABC", res.TransactionID)
	})

	t.Run("failed payment is a decline", func(t *testing.T) {
		rp := &fakeRazorpay{
			captureErr: errors.New("bad request"),
			fetchResp:  map[string]interface{}{"status": "failed", "error_description": "Payment was declined by the bank"},
		}
		g := NewRazorpayGatewayWith(rp, logger)

		_, err := g.Charge(context.Background(), chargeFor(card))
		var decline *DeclineError
		require.True(t, errors.As(err, &decline))
		assert.Equal(t, "Payment was declined by the bank", decline.Reason)
	})

	t.Run("amount mismatch is a decline", func(t *testing.T) {
		rp := &fakeRazorpay{
			captureErr: errors.New("already captured"),
			fetchResp:  map[string]interface{}{"status": "captured", "amount": float64(100)},
		}
		g := NewRazorpayGatewayWith(rp, logger)

		_, err := g.Charge(context.Background(), chargeFor(card))
		assert.True(t, IsDecline(err))
	})

	t.Run("fetch fails leaves outcome unknown", func(t *testing.T) {
		rp := &fakeRazorpay{captureErr: errors.New("connection reset"), fetchErr: errors.New("connection reset")}
		g := NewRazorpayGatewayWith(rp, logger)

		_, err := g.Charge(context.Background(), chargeFor(card))
		require.Error(t, err)
		assert.False(t, IsDecline(err))
	})

	t.Run("no payment id", func(t *testing.T) {
		g := NewRazorpayGatewayWith(&fakeRazorpay{}, logger)
		_, err := g.Charge(context.Background(), chargeFor(&models.CardDetails{Number: "4242"}))
		assert.True(t, IsDecline(err))
	})
}

func TestRazorpayGateway_Status(t *testing.T) {
	logger, _ := test.NewNullLogger()

	tests := []struct {
		status  string
		outcome ChargeOutcome
	}{
		{"captured", ChargeSucceeded},
		{"failed", ChargeFailed},
		{"authorized", ChargeNotFound},
		{"created", ChargeUnknown},
		{"refunded", ChargeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			g := NewRazorpayGatewayWith(&fakeRazorpay{fetchResp: map[string]interface{}{"status": tt.status, "amount": float64(500)}}, logger)
			st, err := g.Status(context.Background(), StatusQuery{Reference: "pay_1"})
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, st.Outcome)
			assert.Equal(t, models.Money(500), *st.Amount)
		})
	}

	g := NewRazorpayGatewayWith(&fakeRazorpay{}, logger)
	st, err := g.Status(context.Background(), StatusQuery{IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ChargeNotFound, st.Outcome)
}
