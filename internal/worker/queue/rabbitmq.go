// Package queue adapts message brokers to the receive/delete/send contract the
// dispatcher consumes. Failures are logged and reported as empty results or
// false; nothing is returned as an error.
package queue

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meritpath/worker-service/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// MaxBatchSize is the largest batch a single Receive returns
	MaxBatchSize = 10

	defaultPollInterval = 100 * time.Millisecond
)

// Broker is the subset of the RabbitMQ client the queue adapter uses
type Broker interface {
	Get() (amqp.Delivery, bool, error)
	Ack(d amqp.Delivery) error
	Nack(d amqp.Delivery, requeue bool) error
	PublishWithRetry(ctx context.Context, body []byte, messageID string) error
}

type lease struct {
	delivery amqp.Delivery
	timer    *time.Timer
}

// RabbitMQ gives a RabbitMQ queue visibility-timeout semantics. Received
// deliveries stay unacked under an in-process lease; Delete acks them and an
// expired lease nacks them back onto the queue.
type RabbitMQ struct {
	broker       Broker
	logger       *slog.Logger
	pollInterval time.Duration

	mu     sync.Mutex
	leases map[string]*lease
}

// NewRabbitMQ creates a RabbitMQ queue adapter
func NewRabbitMQ(broker Broker, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		broker:       broker,
		logger:       logger,
		pollInterval: defaultPollInterval,
		leases:       make(map[string]*lease),
	}
}

// Receive returns up to maxMessages messages, polling until at least one
// arrives or waitTime elapses. An empty result is not an error.
func (q *RabbitMQ) Receive(ctx context.Context, maxMessages int, waitTime, visibilityTimeout time.Duration) []domain.QueueMessage {
	if maxMessages <= 0 {
		return nil
	}
	if maxMessages > MaxBatchSize {
		maxMessages = MaxBatchSize
	}

	deadline := time.Now().Add(waitTime)
	var messages []domain.QueueMessage

	for len(messages) < maxMessages {
		d, ok, err := q.broker.Get()
		if err != nil {
			q.logger.Error("Failed to receive message",
				slog.Any("error", err),
			)
			return messages
		}

		if !ok {
			remaining := time.Until(deadline)
			if len(messages) > 0 || remaining <= 0 {
				break
			}
			wait := min(q.pollInterval, remaining)
			select {
			case <-ctx.Done():
				return messages
			case <-time.After(wait):
			}
			continue
		}

		messages = append(messages, q.lease(d, visibilityTimeout))
	}

	return messages
}

func (q *RabbitMQ) lease(d amqp.Delivery, visibilityTimeout time.Duration) domain.QueueMessage {
	receipt := uuid.NewString()
	l := &lease{delivery: d}

	q.mu.Lock()
	q.leases[receipt] = l
	if visibilityTimeout > 0 {
		l.timer = time.AfterFunc(visibilityTimeout, func() { q.expire(receipt) })
	}
	q.mu.Unlock()

	id := d.MessageId
	if id == "" {
		id = strconv.FormatUint(d.DeliveryTag, 10)
	}

	return domain.QueueMessage{
		ID:            id,
		Body:          d.Body,
		ReceiptHandle: receipt,
		ReceiveCount:  receiveCount(d),
	}
}

func receiveCount(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

// take removes and returns the lease for receipt
func (q *RabbitMQ) take(receipt string) (*lease, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.leases[receipt]
	if !ok {
		return nil, false
	}
	delete(q.leases, receipt)
	if l.timer != nil {
		l.timer.Stop()
	}
	return l, true
}

func (q *RabbitMQ) expire(receipt string) {
	l, ok := q.take(receipt)
	if !ok {
		return
	}

	q.logger.Warn("Message visibility timeout expired, requeueing",
		slog.String("receipt", receipt),
	)
	if err := q.broker.Nack(l.delivery, true); err != nil {
		q.logger.Error("Failed to requeue expired message",
			slog.String("receipt", receipt),
			slog.Any("error", err),
		)
	}
}

// Delete acknowledges the message held under receiptHandle. It returns false
// when the lease already expired or the ack failed.
func (q *RabbitMQ) Delete(ctx context.Context, receiptHandle string) bool {
	l, ok := q.take(receiptHandle)
	if !ok {
		q.logger.Warn("Delete for unknown or expired receipt",
			slog.String("receipt", receiptHandle),
		)
		return false
	}

	if err := q.broker.Ack(l.delivery); err != nil {
		q.logger.Error("Failed to delete message",
			slog.String("receipt", receiptHandle),
			slog.Any("error", err),
		)
		return false
	}

	return true
}

// Send publishes body and returns the generated message ID
func (q *RabbitMQ) Send(ctx context.Context, body []byte) (string, bool) {
	id := uuid.NewString()
	if err := q.broker.PublishWithRetry(ctx, body, id); err != nil {
		q.logger.Error("Failed to send message",
			slog.Any("error", err),
		)
		return "", false
	}
	return id, true
}

// Release returns every still-leased delivery to the queue. Used on shutdown
// for work that was abandoned before it could be deleted.
func (q *RabbitMQ) Release() int {
	q.mu.Lock()
	receipts := make([]string, 0, len(q.leases))
	for r := range q.leases {
		receipts = append(receipts, r)
	}
	q.mu.Unlock()

	released := 0
	for _, r := range receipts {
		l, ok := q.take(r)
		if !ok {
			continue
		}
		if err := q.broker.Nack(l.delivery, true); err != nil {
			q.logger.Error("Failed to release message",
				slog.String("receipt", r),
				slog.Any("error", err),
			)
			continue
		}
		released++
	}
	return released
}

// Leased reports how many deliveries are currently held
func (q *RabbitMQ) Leased() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.leases)
}
