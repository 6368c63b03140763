package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/booking-core/internal/models"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (d *recordingDispatcher) Send(ctx context.Context, msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *recordingDispatcher) messages() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.sent...)
}

type profileMap struct {
	profiles map[uuid.UUID]models.UserProfile
	err      error
}

func (p profileMap) GetUserProfile(_ context.Context, id uuid.UUID) (*models.UserProfile, error) {
	if p.err != nil {
		return nil, p.err
	}
	profile, ok := p.profiles[id]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func testBooking() (*models.Booking, profileMap) {
	b := &models.Booking{
		ID:             uuid.New(),
		TouristID:      uuid.New(),
		DriverID:       uuid.New(),
		TripDate:       models.MustParseDate("2030-06-10"),
		TripTime:       "09:00",
		PickupLocation: "Colombo Fort",
		Status:         models.BookingStatusPending,
		TotalAmount:    models.MustParseMoney("100.00"),
	}
	profiles := profileMap{profiles: map[uuid.UUID]models.UserProfile{
		b.TouristID: {ID: b.TouristID, Email: "tourist@example.com", Name: "Ann"},
		b.DriverID:  {ID: b.DriverID, Email: "driver@example.com"},
	}}
	return b, profiles
}

func TestNotifier_BookingCreated(t *testing.T) {
	logger, _ := test.NewNullLogger()
	b, profiles := testBooking()
	d := &recordingDispatcher{}

	NewNotifier(d, profiles, logger).BookingCreated(context.Background(), b)

	sent := d.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "tourist@example.com", sent[0].To)
	assert.Equal(t, string(models.BookingEventCreated), sent[0].Kind)
	assert.Contains(t, sent[0].Body, "Hi Ann")
	assert.Contains(t, sent[0].Body, "100.00")
	assert.Equal(t, "driver@example.com", sent[1].To)
	assert.Contains(t, sent[1].Body, "Hi there")
	assert.Contains(t, sent[1].Body, "Colombo Fort")
}

func TestNotifier_Cancelled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	b, profiles := testBooking()
	reason := "Plans changed"
	fee := models.MustParseMoney("20.00")
	b.Status = models.BookingStatusCancelled
	b.CancellationReason = &reason
	b.CancellationFee = &fee
	d := &recordingDispatcher{}

	NewNotifier(d, profiles, logger).BookingStatusChanged(context.Background(), b, models.BookingStatusConfirmed)

	sent := d.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, string(models.BookingEventCancelled), sent[0].Kind)
	assert.Contains(t, sent[0].Body, "from confirmed to cancelled")
	assert.Contains(t, sent[0].Body, "Reason: Plans changed")
	assert.Contains(t, sent[0].Body, "Cancellation fee: 20.00")
}

func TestNotifier_SkipsUnreachableUsers(t *testing.T) {
	logger, hook := test.NewNullLogger()
	b, profiles := testBooking()
	delete(profiles.profiles, b.DriverID)
	d := &recordingDispatcher{}

	txID := "tx_1"
	NewNotifier(d, profiles, logger).PaymentCompleted(context.Background(), b, &models.Payment{
		Amount:        b.TotalAmount,
		TransactionID: &txID,
	})
	sent := d.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "tourist@example.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "tx_1")

	// lookup and delivery failures are logged, never returned
	hook.Reset()
	NewNotifier(d, profileMap{err: errors.New("db down")}, logger).BookingCreated(context.Background(), b)
	assert.Len(t, d.messages(), 1)
	assert.Len(t, hook.AllEntries(), 2)

	failing := &recordingDispatcher{err: errors.New("smtp: 421")}
	NewNotifier(failing, profiles, logger).BookingCreated(context.Background(), b)
	assert.Empty(t, failing.messages())
}

type countingProfiles struct {
	profileMap
	mu      sync.Mutex
	lookups int
}

func (p *countingProfiles) GetUserProfile(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	p.mu.Lock()
	p.lookups++
	p.mu.Unlock()
	return p.profileMap.GetUserProfile(ctx, id)
}

func TestNotifier_AsyncResolvesRecipientsOnWorker(t *testing.T) {
	logger, _ := test.NewNullLogger()
	b, profiles := testBooking()
	counting := &countingProfiles{profileMap: profiles}
	next := &recordingDispatcher{}
	async := NewAsyncDispatcher(next, 1, 10, time.Second, logger)

	NewNotifier(async, counting, logger).BookingCreated(context.Background(), b)

	// nothing is read until a worker picks the job up
	assert.Zero(t, counting.lookups)
	assert.Equal(t, 1, async.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, async.Run(ctx))

	assert.Equal(t, 2, counting.lookups)
	sent := next.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "tourist@example.com", sent[0].To)
	assert.Equal(t, "driver@example.com", sent[1].To)
}

func TestAsyncDispatcher(t *testing.T) {
	logger, _ := test.NewNullLogger()
	next := &recordingDispatcher{}
	async := NewAsyncDispatcher(next, 2, 10, time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		async.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, async.Send(context.Background(), Message{To: "a@example.com"}))
	}
	assert.Eventually(t, func() bool { return len(next.messages()) == 5 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestAsyncDispatcher_DropsWhenFullAndDrainsOnStop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	next := &recordingDispatcher{}
	async := NewAsyncDispatcher(next, 1, 2, time.Second, logger)

	// nothing is running yet, so the queue fills up
	require.NoError(t, async.Send(context.Background(), Message{To: "1@example.com"}))
	require.NoError(t, async.Send(context.Background(), Message{To: "2@example.com"}))
	assert.ErrorIs(t, async.Send(context.Background(), Message{To: "3@example.com"}), ErrQueueFull)
	assert.Equal(t, 2, async.Pending())

	// a stopped dispatcher still delivers what was queued
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, async.Run(ctx))
	assert.Zero(t, async.Pending())
	assert.Len(t, next.messages(), 2)
}

type fakeDelivery struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (d *fakeDelivery) Ack(bool) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(_, requeue bool) error {
	d.nacked, d.requeue = true, requeue
	return nil
}

func TestHandleDelivery(t *testing.T) {
	logger, _ := test.NewNullLogger()
	body, err := json.Marshal(Message{To: "a@example.com", Subject: "hi", Kind: "booking.created"})
	require.NoError(t, err)

	t.Run("delivered", func(t *testing.T) {
		next := &recordingDispatcher{}
		d := &fakeDelivery{}
		HandleDelivery(context.Background(), d, body, false, next, logger)
		assert.True(t, d.acked)
		require.Len(t, next.messages(), 1)
		assert.Equal(t, "booking.created", next.messages()[0].Kind)
	})

	t.Run("malformed is dropped", func(t *testing.T) {
		d := &fakeDelivery{}
		HandleDelivery(context.Background(), d, []byte("{not json"), false, &recordingDispatcher{}, logger)
		assert.True(t, d.nacked)
		assert.False(t, d.requeue)
	})

	t.Run("failure is requeued once", func(t *testing.T) {
		next := &recordingDispatcher{err: errors.New("smtp down")}

		first := &fakeDelivery{}
		HandleDelivery(context.Background(), first, body, false, next, logger)
		assert.True(t, first.nacked)
		assert.True(t, first.requeue)

		second := &fakeDelivery{}
		HandleDelivery(context.Background(), second, body, true, next, logger)
		assert.True(t, second.nacked)
		assert.False(t, second.requeue)
	})
}
