package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tripmarket/booking-core/internal/models"
)

// OutboxRepository stores booking events for the relay
type OutboxRepository struct {
	db Querier
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db Querier) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create inserts an event. Call it with the transaction context of the change it describes.
func (r *OutboxRepository) Create(ctx context.Context, e *models.BookingEvent) error {
	query := `
		INSERT INTO booking_events (id, booking_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.BookingID, e.EventType, string(e.Payload), e.Status, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking event: %w", err)
	}
	return nil
}

// FetchBatch claims up to limit new events, oldest first. Concurrent relays
// never claim the same row.
func (r *OutboxRepository) FetchBatch(ctx context.Context, limit int) ([]models.BookingEvent, error) {
	query := `
		WITH claimed AS (
			SELECT id
			FROM booking_events
			WHERE status = 'new'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE booking_events
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (SELECT id FROM claimed)
		RETURNING id, booking_id, event_type, payload, status, created_at, updated_at`

	events := []models.BookingEvent{}
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to claim booking events: %w", err)
	}
	return events, nil
}

// MarkProcessed marks events as published
func (r *OutboxRepository) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	return r.setStatus(ctx, ids, models.OutboxStatusProcessed)
}

// Release returns events to the queue after a failed publish
func (r *OutboxRepository) Release(ctx context.Context, ids []uuid.UUID) error {
	return r.setStatus(ctx, ids, models.OutboxStatusNew)
}

func (r *OutboxRepository) setStatus(ctx context.Context, ids []uuid.UUID, status string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE booking_events SET status = $1, updated_at = NOW() WHERE id = ANY($2::uuid[])`
	if _, err := r.db.ExecContext(ctx, query, status, pq.Array(uuidStrings(ids))); err != nil {
		return fmt.Errorf("failed to mark booking events %s: %w", status, err)
	}
	return nil
}

// ReleaseStale returns events stuck in processing since before olderThan,
// e.g. after a relay crashed mid-batch
func (r *OutboxRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE booking_events SET status = 'new', updated_at = NOW() WHERE status = 'processing' AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale booking events: %w", err)
	}
	return result.RowsAffected()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
