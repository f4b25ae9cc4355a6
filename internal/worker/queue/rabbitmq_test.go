package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu         sync.Mutex
	pending    []amqp.Delivery
	nextTag    uint64
	acked      []uint64
	nacked     []uint64
	published  [][]byte
	getErr     error
	publishErr error
}

func (b *fakeBroker) push(body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextTag++
	b.pending = append(b.pending, amqp.Delivery{DeliveryTag: b.nextTag, MessageId: "m" + body, Body: []byte(body)})
}

func (b *fakeBroker) Get() (amqp.Delivery, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return amqp.Delivery{}, false, b.getErr
	}
	if len(b.pending) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := b.pending[0]
	b.pending = b.pending[1:]
	return d, true, nil
}

func (b *fakeBroker) Ack(d amqp.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, d.DeliveryTag)
	return nil
}

func (b *fakeBroker) Nack(d amqp.Delivery, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nacked = append(b.nacked, d.DeliveryTag)
	return nil
}

func (b *fakeBroker) PublishWithRetry(ctx context.Context, body []byte, messageID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, body)
	return nil
}

func (b *fakeBroker) counts() (acked, nacked int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acked), len(b.nacked)
}

func newTestRabbitMQ() (*RabbitMQ, *fakeBroker) {
	b := &fakeBroker{}
	q := NewRabbitMQ(b, discardLogger())
	q.pollInterval = 5 * time.Millisecond
	return q, b
}

func TestRabbitMQ_ReceiveAndDelete(t *testing.T) {
	q, b := newTestRabbitMQ()
	b.push("1")
	b.push("2")

	msgs := q.Receive(context.Background(), 5, 20*time.Millisecond, time.Minute)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, 1, msgs[0].ReceiveCount)
	assert.Equal(t, 2, q.Leased())

	assert.True(t, q.Delete(context.Background(), msgs[0].ReceiptHandle))
	assert.False(t, q.Delete(context.Background(), msgs[0].ReceiptHandle))
	assert.Equal(t, []uint64{1}, b.acked)
	assert.Equal(t, 1, q.Leased())
}

func TestRabbitMQ_ReceiveRespectsBatchLimits(t *testing.T) {
	q, b := newTestRabbitMQ()
	for i := 0; i < MaxBatchSize+3; i++ {
		b.push("x")
	}

	assert.Len(t, q.Receive(context.Background(), 2, 0, time.Minute), 2)
	assert.Len(t, q.Receive(context.Background(), 100, 0, time.Minute), MaxBatchSize)
	assert.Nil(t, q.Receive(context.Background(), 0, 0, time.Minute))
}

func TestRabbitMQ_ReceiveEmptyWaits(t *testing.T) {
	q, _ := newTestRabbitMQ()

	start := time.Now()
	assert.Empty(t, q.Receive(context.Background(), 1, 25*time.Millisecond, time.Minute))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestRabbitMQ_VisibilityExpiryRequeues(t *testing.T) {
	q, b := newTestRabbitMQ()
	b.push("1")

	msgs := q.Receive(context.Background(), 1, 0, 10*time.Millisecond)
	require.Len(t, msgs, 1)

	assert.Eventually(t, func() bool {
		_, nacked := b.counts()
		return nacked == 1
	}, time.Second, 5*time.Millisecond)

	assert.False(t, q.Delete(context.Background(), msgs[0].ReceiptHandle))
	acked, _ := b.counts()
	assert.Zero(t, acked)
}

func TestRabbitMQ_Release(t *testing.T) {
	q, b := newTestRabbitMQ()
	b.push("1")
	b.push("2")
	require.Len(t, q.Receive(context.Background(), 2, 0, time.Minute), 2)

	assert.Equal(t, 2, q.Release())
	assert.Zero(t, q.Leased())
	_, nacked := b.counts()
	assert.Equal(t, 2, nacked)
}

func TestRabbitMQ_Send(t *testing.T) {
	q, b := newTestRabbitMQ()

	id, ok := q.Send(context.Background(), []byte(`{"job_id":"j1"}`))
	assert.True(t, ok)
	assert.NotEmpty(t, id)
	require.Len(t, b.published, 1)

	b.publishErr = errors.New("channel closed")
	id, ok = q.Send(context.Background(), []byte(`{}`))
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestRabbitMQ_GetErrorReturnsEmpty(t *testing.T) {
	q, b := newTestRabbitMQ()
	b.getErr = errors.New("connection reset")

	assert.Empty(t, q.Receive(context.Background(), 5, time.Second, time.Minute))
}

func TestReceiveCount(t *testing.T) {
	assert.Equal(t, 1, receiveCount(amqp.Delivery{}))
	assert.Equal(t, 2, receiveCount(amqp.Delivery{Redelivered: true}))
	assert.Equal(t, 4, receiveCount(amqp.Delivery{Headers: amqp.Table{"x-delivery-count": int64(3)}}))
}
