package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/metrics"
	"github.com/tripmarket/booking-core/internal/models"
)

// OutboxQueue is the relay's side of the booking_events table
type OutboxQueue interface {
	FetchBatch(ctx context.Context, limit int) ([]models.BookingEvent, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID) error
	Release(ctx context.Context, ids []uuid.UUID) error
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// EventPublisher delivers one keyed message to the event stream
type EventPublisher interface {
	Publish(ctx context.Context, key, value []byte, headers map[string]string) error
	Topic() string
}

// OutboxRelay moves committed booking events from the outbox to Kafka
type OutboxRelay struct {
	queue     OutboxQueue
	publisher EventPublisher
	interval  time.Duration
	batchSize int
	logger    *logrus.Logger
}

// NewOutboxRelay creates a new OutboxRelay
func NewOutboxRelay(queue OutboxQueue, publisher EventPublisher, interval time.Duration, batchSize int, logger *logrus.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	return &OutboxRelay{
		queue:     queue,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// staleClaimAge is how long an event may sit in processing before a sweep
// hands it back to the queue
const staleClaimAge = 5 * time.Minute

// Run polls until ctx is cancelled
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	sweep := time.NewTicker(staleClaimAge)
	defer sweep.Stop()

	r.logger.WithField("topic", r.publisher.Topic()).Info("Outbox relay started")

	// events claimed by a relay that died are returned on start
	r.releaseStale(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-sweep.C:
			r.releaseStale(ctx)
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				r.logger.WithError(err).Error("Failed to process booking event batch")
			}
		}
	}
}

func (r *OutboxRelay) releaseStale(ctx context.Context) {
	n, err := r.queue.ReleaseStale(ctx, time.Now().Add(-staleClaimAge))
	if err != nil {
		r.logger.WithError(err).Warn("Failed to release stale booking events")
		return
	}
	if n > 0 {
		r.logger.WithField("count", n).Info("Released stale booking events")
	}
}

// ProcessBatch publishes one batch and returns how many events went out.
// Events of a booking are published in order: once one fails, its later
// events in the batch are put back untouched.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	events, err := r.queue.FetchBatch(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	var processed, failed []uuid.UUID
	blocked := make(map[uuid.UUID]bool)

	for _, e := range events {
		if blocked[e.BookingID] {
			failed = append(failed, e.ID)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := r.publisher.Publish(sendCtx, []byte(e.BookingID.String()), []byte(e.Payload), map[string]string{
			"event_id":   e.ID.String(),
			"event_type": string(e.EventType),
		})
		cancel()

		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"event_id":   e.ID,
				"booking_id": e.BookingID,
				"event_type": e.EventType,
				"error":      err.Error(),
			}).Warn("Failed to publish booking event")
			metrics.OutboxPublishErrors.Inc()
			blocked[e.BookingID] = true
			failed = append(failed, e.ID)
			continue
		}

		metrics.OutboxPublished.Inc()
		processed = append(processed, e.ID)
	}

	if err := r.queue.Release(ctx, failed); err != nil {
		r.logger.WithError(err).Error("Failed to release unpublished booking events")
	}
	if err := r.queue.MarkProcessed(ctx, processed); err != nil {
		// published but not marked: they go out again, consumers dedupe on event_id
		if relErr := r.queue.Release(ctx, processed); relErr != nil {
			r.logger.WithError(relErr).Error("Failed to release published booking events")
		}
		return 0, err
	}

	if len(processed) > 0 {
		r.logger.WithField("count", len(processed)).Debug("Published booking events")
	}
	return len(processed), nil
}
