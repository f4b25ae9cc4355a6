package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := NewRedis(rdb, "jobs", discardLogger())
	q.pollInterval = 5 * time.Millisecond
	return q, mr
}

func TestRedis_SendReceiveDelete(t *testing.T) {
	q, _ := newTestRedis(t)
	ctx := context.Background()

	id, ok := q.Send(ctx, []byte(`{"job_id":"j1"}`))
	require.True(t, ok)
	require.NotEmpty(t, id)

	msgs := q.Receive(ctx, 5, 50*time.Millisecond, time.Minute)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, `{"job_id":"j1"}`, string(msgs[0].Body))
	assert.Equal(t, 1, msgs[0].ReceiveCount)

	ready, inflight, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ready)
	assert.Equal(t, int64(1), inflight)

	assert.True(t, q.Delete(ctx, msgs[0].ReceiptHandle))
	assert.False(t, q.Delete(ctx, msgs[0].ReceiptHandle), "second delete of the same receipt fails")

	ready, inflight, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, ready)
	assert.Zero(t, inflight)
}

func TestRedis_ReceiveEmptyTimesOut(t *testing.T) {
	q, _ := newTestRedis(t)

	start := time.Now()
	msgs := q.Receive(context.Background(), 10, 30*time.Millisecond, time.Minute)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRedis_BatchIsCapped(t *testing.T) {
	q, _ := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < MaxBatchSize+5; i++ {
		_, ok := q.Send(ctx, []byte(`{}`))
		require.True(t, ok)
	}

	assert.Len(t, q.Receive(ctx, 3, 0, time.Minute), 3)
	assert.Len(t, q.Receive(ctx, 50, 0, time.Minute), MaxBatchSize)
}

func TestRedis_FIFO(t *testing.T) {
	q, _ := newTestRedis(t)
	ctx := context.Background()

	first, _ := q.Send(ctx, []byte(`1`))
	second, _ := q.Send(ctx, []byte(`2`))

	msgs := q.Receive(ctx, 2, 0, time.Minute)
	require.Len(t, msgs, 2)
	assert.Equal(t, first, msgs[0].ID)
	assert.Equal(t, second, msgs[1].ID)
}

func TestRedis_VisibilityExpiryRedelivers(t *testing.T) {
	q, _ := newTestRedis(t)
	ctx := context.Background()

	clock := time.Now()
	q.now = func() time.Time { return clock }

	id, _ := q.Send(ctx, []byte(`{"job_id":"j1"}`))
	first := q.Receive(ctx, 1, 0, 30*time.Second)
	require.Len(t, first, 1)

	assert.Empty(t, q.Receive(ctx, 1, 0, 30*time.Second), "leased message is invisible")

	clock = clock.Add(31 * time.Second)
	second := q.Receive(ctx, 1, 0, 30*time.Second)
	require.Len(t, second, 1)
	assert.Equal(t, id, second[0].ID)
	assert.Equal(t, 2, second[0].ReceiveCount)
	assert.NotEqual(t, first[0].ReceiptHandle, second[0].ReceiptHandle)

	assert.False(t, q.Delete(ctx, first[0].ReceiptHandle), "stale receipt cannot delete")
	assert.True(t, q.Delete(ctx, second[0].ReceiptHandle))
}

func TestRedis_Unavailable(t *testing.T) {
	q, mr := newTestRedis(t)
	mr.Close()

	_, ok := q.Send(context.Background(), []byte(`{}`))
	assert.False(t, ok)
	assert.Empty(t, q.Receive(context.Background(), 1, 0, time.Minute))
	assert.False(t, q.Delete(context.Background(), "abc:def"))
}

func TestRedis_MalformedReceipt(t *testing.T) {
	q, _ := newTestRedis(t)
	assert.False(t, q.Delete(context.Background(), "no-separator"))
}
