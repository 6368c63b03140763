package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/models"
)

func newReconciler(f *fixture) *ReconciliationService {
	return NewReconciliationService(f.paymentSvc, config.JobsConfig{
		ReconciliationGrace: 15 * time.Minute,
		ReconciliationBatch: 50,
	}, f.logger)
}

// stuck leaves a booking whose charge timed out with no answer from the gateway
func stuck(t *testing.T, f *fixture) uuid.UUID {
	t.Helper()
	id := f.book("2030-06-10")
	f.gateway.chargeErr = ErrGatewayTimeout
	f.gateway.status = &ChargeStatus{Outcome: ChargeUnknown}

	_, err := f.paymentSvc.Process(context.Background(), f.touristID, cardPayment(id, "4242424242424242"))
	require.Equal(t, models.KindReconciliationRequired, models.KindOf(err))
	require.True(t, f.db.paymentFor(id).NeedsReconciliation)

	f.gateway.chargeErr = nil
	f.gateway.status = nil
	return id
}

func TestReconciliation_Settles(t *testing.T) {
	f := newFixture()
	id := stuck(t, f)
	amount := models.MustParseMoney("100.00")
	f.gateway.status = &ChargeStatus{Outcome: ChargeSucceeded, TransactionID: "tx_found", Amount: &amount}

	report, err := newReconciler(f).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconciliationReport{Checked: 1, Settled: 1}, *report)

	p := f.db.paymentFor(id)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.False(t, p.NeedsReconciliation)
	require.NotNil(t, p.TransactionID)
	assert.Equal(t, "tx_found", *p.TransactionID)
	assert.Equal(t, models.BookingStatusConfirmed, f.db.booking(id).Status)
	assert.Contains(t, f.db.eventTypes(id), models.BookingEventConfirmed)
	assert.Contains(t, f.db.auditTypes(), models.PaymentEventReconciliationResolved)
	assert.Contains(t, f.notifier.kinds(), "payment_completed")
	assert.Equal(t, 1, f.gateway.chargeCount())

	// nothing left to do
	report, err = newReconciler(f).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestReconciliation_Failed(t *testing.T) {
	f := newFixture()
	id := stuck(t, f)
	f.gateway.status = &ChargeStatus{Outcome: ChargeFailed, Reason: "expired card"}

	report, err := newReconciler(f).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	p := f.db.paymentFor(id)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.False(t, p.NeedsReconciliation)
	require.NotNil(t, p.ErrorMessage)
	assert.Equal(t, "expired card", *p.ErrorMessage)
	assert.Equal(t, models.BookingStatusPending, f.db.booking(id).Status)
}

func TestReconciliation_NotChargedClearsAttempt(t *testing.T) {
	f := newFixture()
	id := stuck(t, f)
	f.gateway.status = &ChargeStatus{Outcome: ChargeNotFound}
	f.now = f.now.Add(16 * time.Minute)

	report, err := newReconciler(f).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cleared)

	p := f.db.paymentFor(id)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.False(t, p.NeedsReconciliation)
	assert.Nil(t, p.AttemptedAt)

	// the tourist can pay again
	_, err = f.paymentSvc.Process(context.Background(), f.touristID, cardPayment(id, "4242424242424242"))
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, f.db.booking(id).Status)
	assert.Equal(t, 2, f.gateway.chargeCount())
}

func TestReconciliation_RecentNotFoundStaysFlagged(t *testing.T) {
	f := newFixture()
	id := stuck(t, f)
	f.gateway.status = &ChargeStatus{Outcome: ChargeNotFound}
	f.now = f.now.Add(time.Minute)

	report, err := newReconciler(f).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconciliationReport{Checked: 1, Pending: 1}, *report)

	p := f.db.paymentFor(id)
	assert.True(t, p.NeedsReconciliation)
	require.NotNil(t, p.AttemptedAt)

	// the booking cannot be charged a second time while the first charge may still land
	_, err = f.paymentSvc.Process(context.Background(), f.touristID, cardPayment(id, "4242424242424242"))
	require.Error(t, err)
	assert.Equal(t, 1, f.gateway.chargeCount())
}

func TestReconciliation_StaysPending(t *testing.T) {
	wrong := models.MustParseMoney("1.00")

	tests := []struct {
		name      string
		status    *ChargeStatus
		statusErr error
	}{
		{"gateway unavailable", nil, errors.New("connection refused")},
		{"still processing", &ChargeStatus{Outcome: ChargeUnknown}, nil},
		{"amount mismatch", &ChargeStatus{Outcome: ChargeSucceeded, TransactionID: "tx", Amount: &wrong}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id := stuck(t, f)
			f.gateway.status = tt.status
			f.gateway.statusErr = tt.statusErr

			report, err := newReconciler(f).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, ReconciliationReport{Checked: 1, Pending: 1}, *report)

			p := f.db.paymentFor(id)
			assert.Equal(t, models.PaymentStatusPending, p.Status)
			assert.True(t, p.NeedsReconciliation)
			assert.Equal(t, models.BookingStatusPending, f.db.booking(id).Status)
		})
	}
}

func TestReconciliation_CancelledBookingOwesRefund(t *testing.T) {
	f := newFixture()
	id := stuck(t, f)

	_, err := f.bookingSvc.Cancel(context.Background(), id, f.tourist(), nil)
	require.NoError(t, err)

	amount := models.MustParseMoney("100.00")
	f.gateway.status = &ChargeStatus{Outcome: ChargeSucceeded, TransactionID: "tx_late", Amount: &amount}

	report, err := newReconciler(f).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.RefundDue)

	p := f.db.paymentFor(id)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.RefundAmount)
	assert.Equal(t, amount, *p.RefundAmount)
	assert.Equal(t, models.BookingStatusCancelled, f.db.booking(id).Status)
	assert.NotContains(t, f.notifier.kinds(), "payment_completed")
}

func TestReconciliation_SkipsLockedBooking(t *testing.T) {
	f := newFixture()
	id := stuck(t, f)
	f.gateway.status = &ChargeStatus{Outcome: ChargeFailed}

	release, ok, err := f.locker.Acquire(context.Background(), id.String(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	report, err := newReconciler(f).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconciliationReport{Checked: 1, Skipped: 1}, *report)
	assert.Equal(t, models.PaymentStatusPending, f.db.paymentFor(id).Status)
}

func TestReconciliation_SingleRun(t *testing.T) {
	f := newFixture()
	svc := newReconciler(f)

	svc.running.Lock()
	_, err := svc.Run(context.Background())
	assert.Equal(t, models.KindConflict, models.KindOf(err))
	svc.running.Unlock()

	_, err = svc.Run(context.Background())
	assert.NoError(t, err)
}

func TestReconciliation_Queue(t *testing.T) {
	f := newFixture()
	id := stuck(t, f)
	f.book("2030-06-11")

	queue, err := newReconciler(f).Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, id, queue[0].BookingID)
}
