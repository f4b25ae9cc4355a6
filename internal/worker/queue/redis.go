package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meritpath/worker-service/internal/worker/domain"
	"github.com/redis/go-redis/v9"
)

// requeueScript moves messages whose lease deadline has passed back to the
// consuming end of the ready list.
// KEYS: inflight, ready, receipt. ARGV: now (ms).
var requeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('HDEL', KEYS[3], id)
	redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

// claimScript pops up to ARGV[1] ids and leases each one.
// KEYS: ready, inflight, msg, receipt, count. ARGV: max, deadline (ms), token.
// Returns a flat list of id, body, receipt, receive count.
var claimScript = redis.NewScript(`
local out = {}
for i = 1, tonumber(ARGV[1]) do
	local id = redis.call('RPOP', KEYS[1])
	if not id then
		break
	end
	local body = redis.call('HGET', KEYS[3], id)
	if body then
		local receipt = id .. ':' .. ARGV[3]
		redis.call('ZADD', KEYS[2], ARGV[2], id)
		redis.call('HSET', KEYS[4], id, receipt)
		local n = redis.call('HINCRBY', KEYS[5], id, 1)
		table.insert(out, id)
		table.insert(out, body)
		table.insert(out, receipt)
		table.insert(out, n)
	end
end
return out
`)

// deleteScript removes a message only while the caller's receipt is current.
// KEYS: inflight, msg, receipt, count. ARGV: id, receipt.
var deleteScript = redis.NewScript(`
if redis.call('HGET', KEYS[3], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
return 1
`)

// Redis is a visibility-timeout queue on plain Redis structures: a ready
// list, a lease zset scored by deadline, and hashes for bodies, receipts and
// receive counts.
type Redis struct {
	rdb          redis.UniversalClient
	logger       *slog.Logger
	pollInterval time.Duration
	now          func() time.Time

	ready    string
	inflight string
	msgs     string
	receipts string
	counts   string
}

// NewRedis creates a Redis queue adapter for the named queue
func NewRedis(rdb redis.UniversalClient, name string, logger *slog.Logger) *Redis {
	prefix := "queue:" + name
	return &Redis{
		rdb:          rdb,
		logger:       logger,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		ready:        prefix + ":ready",
		inflight:     prefix + ":inflight",
		msgs:         prefix + ":msg",
		receipts:     prefix + ":receipt",
		counts:       prefix + ":count",
	}
}

// Receive returns up to maxMessages messages, polling until at least one
// arrives or waitTime elapses. Expired leases are requeued first.
func (q *Redis) Receive(ctx context.Context, maxMessages int, waitTime, visibilityTimeout time.Duration) []domain.QueueMessage {
	if maxMessages <= 0 {
		return nil
	}
	if maxMessages > MaxBatchSize {
		maxMessages = MaxBatchSize
	}

	deadline := time.Now().Add(waitTime)
	for {
		messages, err := q.claim(ctx, maxMessages, visibilityTimeout)
		if err != nil {
			q.logger.Error("Failed to receive messages",
				slog.String("queue", q.ready),
				slog.Any("error", err),
			)
			return nil
		}
		if len(messages) > 0 {
			return messages
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(min(q.pollInterval, remaining)):
		}
	}
}

func (q *Redis) claim(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) ([]domain.QueueMessage, error) {
	now := q.now()

	moved, err := requeueScript.Run(ctx, q.rdb, []string{q.inflight, q.ready, q.receipts}, now.UnixMilli()).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to requeue expired messages: %w", err)
	}
	if moved > 0 {
		q.logger.Warn("Requeued messages with expired visibility",
			slog.String("queue", q.ready),
			slog.Int("count", moved),
		)
	}

	leaseDeadline := now.Add(visibilityTimeout).UnixMilli()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.ready, q.inflight, q.msgs, q.receipts, q.counts},
		maxMessages, leaseDeadline, uuid.NewString(),
	).Slice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}

	messages := make([]domain.QueueMessage, 0, len(res)/4)
	for i := 0; i+3 < len(res); i += 4 {
		id, _ := res[i].(string)
		body, _ := res[i+1].(string)
		receipt, _ := res[i+2].(string)
		count, _ := res[i+3].(int64)
		messages = append(messages, domain.QueueMessage{
			ID:            id,
			Body:          []byte(body),
			ReceiptHandle: receipt,
			ReceiveCount:  int(count),
		})
	}
	return messages, nil
}

// Delete removes the message held under receiptHandle. It returns false when
// the receipt is stale because the lease expired and the message was
// redelivered.
func (q *Redis) Delete(ctx context.Context, receiptHandle string) bool {
	id, _, ok := strings.Cut(receiptHandle, ":")
	if !ok || id == "" {
		q.logger.Warn("Malformed receipt handle",
			slog.String("receipt", receiptHandle),
		)
		return false
	}

	n, err := deleteScript.Run(ctx, q.rdb, []string{q.inflight, q.msgs, q.receipts, q.counts}, id, receiptHandle).Int()
	if err != nil {
		q.logger.Error("Failed to delete message",
			slog.String("message_id", id),
			slog.Any("error", err),
		)
		return false
	}
	if n == 0 {
		q.logger.Warn("Delete with stale receipt",
			slog.String("message_id", id),
		)
		return false
	}
	return true
}

// Send stores body and pushes its ID onto the ready list
func (q *Redis) Send(ctx context.Context, body []byte) (string, bool) {
	id := uuid.NewString()

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.msgs, id, body)
	pipe.LPush(ctx, q.ready, id)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("Failed to send message",
			slog.String("queue", q.ready),
			slog.Any("error", err),
		)
		return "", false
	}
	return id, true
}

// Depth reports the number of messages waiting and leased
func (q *Redis) Depth(ctx context.Context) (ready, inflight int64, err error) {
	pipe := q.rdb.Pipeline()
	readyCmd := pipe.LLen(ctx, q.ready)
	inflightCmd := pipe.ZCard(ctx, q.inflight)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return readyCmd.Val(), inflightCmd.Val(), nil
}

// HealthCheck fails when the queue keys cannot be read
func (q *Redis) HealthCheck(ctx context.Context) error {
	_, _, err := q.Depth(ctx)
	return err
}
