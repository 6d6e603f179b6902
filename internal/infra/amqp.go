package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/attaboy/checkout/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes a wake-up message for the external worker each time an
// operation is enqueued. When disabled every call is a no-op.
type AMQPNotifier struct {
	url     string
	queue   string
	logger  *slog.Logger
	enabled bool

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPNotifier creates a notifier. The connection is opened lazily.
func NewAMQPNotifier(url, queue string, enabled bool, logger *slog.Logger) *AMQPNotifier {
	if !enabled || url == "" {
		logger.Info("amqp notifier disabled")
		return &AMQPNotifier{logger: logger}
	}
	logger.Info("amqp notifier initialized", "queue", queue)
	return &AMQPNotifier{url: url, queue: queue, logger: logger, enabled: true}
}

type enqueuedMessage struct {
	OperationID     string               `json:"operationId"`
	OperationType   domain.OperationType `json:"operationType"`
	DedupeKey       string               `json:"dedupeKey"`
	PurchaseID      *string              `json:"purchaseId,omitempty"`
	PaymentIntentID *string              `json:"paymentIntentId,omitempty"`
}

// NotifyEnqueued publishes a persistent message to the worker queue.
func (n *AMQPNotifier) NotifyEnqueued(ctx context.Context, op *domain.Operation) error {
	if !n.enabled {
		return nil
	}
	body, err := json.Marshal(enqueuedMessage{
		OperationID:     op.ID.String(),
		OperationType:   op.Type,
		DedupeKey:       op.DedupeKey,
		PurchaseID:      op.PurchaseID,
		PaymentIntentID: op.PaymentIntentID,
	})
	if err != nil {
		return fmt.Errorf("marshal wake-up: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	ch, err := n.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    op.ID.String(),
		Body:         body,
	})
	if err != nil {
		n.reset()
		return fmt.Errorf("publish wake-up: %w", err)
	}
	return nil
}

// channel returns an open channel, dialing and declaring the queue if needed.
// Caller holds n.mu.
func (n *AMQPNotifier) channel() (*amqp.Channel, error) {
	if n.ch != nil && !n.ch.IsClosed() {
		return n.ch, nil
	}
	n.reset()

	conn, err := amqp.Dial(n.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}
	n.conn, n.ch = conn, ch
	return ch, nil
}

func (n *AMQPNotifier) reset() {
	if n.ch != nil {
		_ = n.ch.Close()
		n.ch = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

// Close releases the broker connection.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset()
	return nil
}
