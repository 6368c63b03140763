package notifications

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tripmarket/booking-core/internal/metrics"
)

// ErrQueueFull is returned when a message is dropped for lack of room
var ErrQueueFull = errors.New("notification queue is full")

// job produces the messages a worker delivers
type job func(ctx context.Context) []Message

// AsyncDispatcher hands messages to a fixed pool of workers. Send never
// blocks; when the queue is full the message is dropped and logged.
type AsyncDispatcher struct {
	next        Dispatcher
	queue       chan job
	workers     int
	sendTimeout time.Duration
	logger      *logrus.Logger
}

// NewAsyncDispatcher creates a new AsyncDispatcher. Run must be called for
// anything to be delivered.
func NewAsyncDispatcher(next Dispatcher, workers, queueSize int, sendTimeout time.Duration, logger *logrus.Logger) *AsyncDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	return &AsyncDispatcher{
		next:        next,
		queue:       make(chan job, queueSize),
		workers:     workers,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

func (d *AsyncDispatcher) Send(_ context.Context, msg Message) error {
	return d.SendLater(msg.Kind, func(context.Context) []Message { return []Message{msg} })
}

// SendLater queues build to run on a worker, under the send timeout, and
// delivers whatever it returns. Recipients can be resolved there instead of
// on the caller's goroutine.
func (d *AsyncDispatcher) SendLater(kind string, build func(ctx context.Context) []Message) error {
	select {
	case d.queue <- build:
		return nil
	default:
		metrics.NotificationsDropped.Inc()
		d.logger.WithField("kind", kind).Warn("Notification queue full, message dropped")
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is cancelled, then drains what is
// already queued before returning
func (d *AsyncDispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()
	d.drain()
	return nil
}

func (d *AsyncDispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			d.deliver(j)
		}
	}
}

func (d *AsyncDispatcher) drain() {
	for {
		select {
		case j := <-d.queue:
			d.deliver(j)
		default:
			return
		}
	}
}

func (d *AsyncDispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	for _, msg := range j(ctx) {
		if err := d.next.Send(ctx, msg); err != nil {
			metrics.NotificationsSent.WithLabelValues("error").Inc()
			d.logger.WithFields(logrus.Fields{
				"to":    msg.To,
				"kind":  msg.Kind,
				"error": err.Error(),
			}).Warn("Failed to deliver notification")
			continue
		}
		metrics.NotificationsSent.WithLabelValues("sent").Inc()
	}
}

// Pending returns the number of queued messages
func (d *AsyncDispatcher) Pending() int {
	return len(d.queue)
}
