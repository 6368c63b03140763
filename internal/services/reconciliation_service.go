package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/config"
	"github.com/tripmarket/booking-core/internal/metrics"
	"github.com/tripmarket/booking-core/internal/models"
)

// ReconciliationReport summarizes one reconciliation pass
type ReconciliationReport struct {
	Checked   int `json:"checked"`
	Settled   int `json:"settled"`
	Failed    int `json:"failed"`
	Cleared   int `json:"cleared"`
	RefundDue int `json:"refund_due"`
	Pending   int `json:"pending"`
	Skipped   int `json:"skipped"`
}

// ReconciliationService resolves payments whose gateway outcome was never
// recorded, by asking the gateway. It never charges and never refunds.
type ReconciliationService struct {
	payments *PaymentService
	config   config.JobsConfig
	logger   *logrus.Logger
	running  sync.Mutex
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(payments *PaymentService, cfg config.JobsConfig, logger *logrus.Logger) *ReconciliationService {
	return &ReconciliationService{
		payments: payments,
		config:   cfg,
		logger:   logger,
	}
}

// Queue returns the payments the next run will look at
func (s *ReconciliationService) Queue(ctx context.Context) ([]models.Payment, error) {
	staleBefore := s.payments.now().Add(-s.config.ReconciliationGrace)
	queue, err := s.payments.payments.ListForReconciliation(ctx, staleBefore, s.config.ReconciliationBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to load reconciliation queue: %w", err)
	}
	return queue, nil
}

// Run checks every queued payment against the gateway. Only one run is
// active at a time.
func (s *ReconciliationService) Run(ctx context.Context) (*ReconciliationReport, error) {
	if !s.running.TryLock() {
		return nil, models.NewConflictError("reconciliation is already running")
	}
	defer s.running.Unlock()

	queue, err := s.Queue(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{}
	for i := range queue {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		s.reconcile(ctx, &queue[i], report)
	}

	if report.Checked > 0 {
		s.logger.WithFields(logrus.Fields{
			"checked":    report.Checked,
			"settled":    report.Settled,
			"failed":     report.Failed,
			"cleared":    report.Cleared,
			"refund_due": report.RefundDue,
			"pending":    report.Pending,
			"skipped":    report.Skipped,
		}).Info("Reconciliation pass finished")
	}
	return report, nil
}

func (s *ReconciliationService) reconcile(ctx context.Context, p *models.Payment, report *ReconciliationReport) {
	ps := s.payments
	log := s.logger.WithFields(logrus.Fields{
		"booking_id": p.BookingID,
		"payment_id": p.ID,
	})

	release, ok, err := ps.locker.Acquire(ctx, p.BookingID.String(), ps.config.LockTTL)
	if err != nil || !ok {
		// a live Process call owns it
		report.Skipped++
		return
	}
	defer release()

	st, err := ps.status(ctx, p)
	if err != nil {
		log.WithError(err).Warn("Reconciliation status query failed")
		report.Pending++
		return
	}

	resolution := ""
	switch st.Outcome {
	case ChargeSucceeded:
		if st.Amount != nil && *st.Amount != p.Amount {
			s.keep(ctx, p, fmt.Errorf("gateway charged %s, expected %s", st.Amount, p.Amount))
			report.Pending++
			return
		}
		outcome, err := ps.settle(ctx, p.BookingID, st.TransactionID, nil)
		switch {
		case models.IsKind(err, models.KindAlreadyPaid):
			resolution = "already_completed"
			report.Settled++
		case err != nil:
			log.WithError(err).Error("Reconciliation could not settle a captured payment")
			s.keep(ctx, p, err)
			report.Pending++
			return
		case outcome.refundDue != nil:
			resolution = "refund_due"
			report.RefundDue++
			log.WithField("refund_due", outcome.refundDue.String()).Warn("Captured payment for a cancelled booking, manual refund required")
		default:
			resolution = "settled"
			report.Settled++
			metrics.BookingTransitions.WithLabelValues(string(models.BookingStatusPending), string(models.BookingStatusConfirmed)).Inc()
			ps.notifier.PaymentCompleted(ctx, outcome.booking, outcome.payment)
		}

	case ChargeFailed:
		if err := ps.payments.MarkFailed(ctx, p.ID, st.Reason, ps.now()); err != nil {
			log.WithError(err).Error("Failed to mark payment failed")
			report.Pending++
			return
		}
		resolution = "failed"
		report.Failed++

	case ChargeNotFound:
		// a charge can surface late after a timeout, so only attempts older
		// than the grace period count as never charged
		if p.AttemptedAt != nil && p.AttemptedAt.After(ps.now().Add(-s.config.ReconciliationGrace)) {
			log.Debug("Gateway has no record of a recent attempt yet, keeping it flagged")
			report.Pending++
			return
		}
		if err := ps.payments.ClearAttempt(ctx, p.ID, ps.now()); err != nil {
			log.WithError(err).Error("Failed to clear payment attempt")
			report.Pending++
			return
		}
		resolution = "not_charged"
		report.Cleared++

	default:
		if !p.NeedsReconciliation {
			s.keep(ctx, p, fmt.Errorf("gateway status %s", st.Outcome))
		}
		report.Pending++
		return
	}

	metrics.ReconciliationResolved.WithLabelValues(resolution).Inc()
	ps.audit(ctx, models.NewPaymentAudit(models.PaymentEventReconciliationResolved, models.PaymentSourceSystem).
		ForPayment(p).
		SetPaymentStatus(resolution).
		SetTransactionID(st.TransactionID).
		SetResponsePayload(st.Raw))
	log.WithField("resolution", resolution).Info("Payment reconciled")
}

// keep leaves the payment flagged for a later run or an operator
func (s *ReconciliationService) keep(ctx context.Context, p *models.Payment, cause error) {
	ps := s.payments
	if err := ps.payments.FlagForReconciliation(ctx, p.ID, ps.now()); err != nil {
		s.logger.WithError(err).WithField("payment_id", p.ID).Error("Failed to flag payment for reconciliation")
	}
	ps.audit(ctx, models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceSystem).
		ForPayment(p).
		SetPaymentStatus(string(p.Status)).
		SetError(cause))
}

// RunWithTimeout is the cron entry point
func (s *ReconciliationService) RunWithTimeout(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := s.Run(ctx); err != nil {
		s.logger.WithError(err).Error("Reconciliation run failed")
	}
}
