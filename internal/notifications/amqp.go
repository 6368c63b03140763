package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPDispatcher publishes messages to a durable RabbitMQ queue; the
// notifier worker consumes them and does the actual delivery
type AMQPDispatcher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPDispatcher connects and declares the queue
func NewAMQPDispatcher(url, queue string) (*AMQPDispatcher, error) {
	conn, ch, err := dialQueue(url, queue)
	if err != nil {
		return nil, err
	}
	return &AMQPDispatcher{conn: conn, ch: ch, queue: queue}, nil
}

func dialQueue(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}
	return conn, ch, nil
}

func (d *AMQPDispatcher) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	// amqp.Channel is not safe for concurrent publishing
	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.ch.Publish("", d.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         msg.Kind,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close closes the channel and connection
func (d *AMQPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ch.Close()
	return d.conn.Close()
}

// Delivery is the consumer's view of one queued message
type Delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// HandleDelivery decodes body and delivers it with next. Malformed
// messages are dropped; a failed delivery is requeued once.
func HandleDelivery(ctx context.Context, d Delivery, body []byte, redelivered bool, next Dispatcher, logger *logrus.Logger) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		logger.WithError(err).Warn("Dropping malformed notification")
		d.Nack(false, false)
		return
	}

	if err := next.Send(ctx, msg); err != nil {
		logger.WithFields(logrus.Fields{
			"to":          msg.To,
			"kind":        msg.Kind,
			"redelivered": redelivered,
			"error":       err.Error(),
		}).Warn("Notification delivery failed")
		d.Nack(false, !redelivered)
		return
	}
	d.Ack(false)
}

// Consume reads the queue until ctx is cancelled or the connection drops
func Consume(ctx context.Context, url, queue string, next Dispatcher, sendTimeout time.Duration, logger *logrus.Logger) error {
	conn, ch, err := dialQueue(url, queue)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.WithField("queue", queue).Info("Notification consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			HandleDelivery(sendCtx, msg, msg.Body, msg.Redelivered, next, logger)
			cancel()
		}
	}
}
