package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron           *cron.Cron
	reconciliation *ReconciliationService
	schedule       string
	logger         *logrus.Logger
}

// NewCronService creates a new CronService. schedule uses the six-field
// format with seconds.
func NewCronService(reconciliation *ReconciliationService, schedule string, logger *logrus.Logger) *CronService {
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:           c,
		reconciliation: reconciliation,
		schedule:       schedule,
		logger:         logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	// Job 1: Reconcile payments with an unknown gateway outcome
	// Cron format: second minute hour day month weekday
	// "0 */5 * * * *" = every 5 minutes
	_, err := s.cron.AddFunc(s.schedule, s.reconcilePaymentsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}
	s.logger.WithField("schedule", s.schedule).Info("Scheduled: payment reconciliation")

	s.cron.Start()
	s.logger.Info("Cron service started")

	return nil
}

// Stop stops all cron jobs and waits for a running job to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) reconcilePaymentsJob() {
	startTime := time.Now()
	s.reconciliation.RunWithTimeout(4 * time.Minute)
	s.logger.WithField("duration", time.Since(startTime).String()).Debug("[CRON] Reconciliation job finished")
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
