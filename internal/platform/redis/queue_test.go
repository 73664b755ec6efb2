//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/ciutil"
	"github.com/phrazzld/openvoice/internal/platform/logger"
	"github.com/phrazzld/openvoice/internal/queue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, size int) *Queue {
	t.Helper()

	addr := ciutil.RequireService(t, "redis", ciutil.GetTestRedisAddr(nil))

	key := "openvoice:test:" + uuid.NewString()
	q, err := Open(context.Background(), Options{Addr: addr, Key: key, Size: size}, logger.Discard())
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanup := goredis.NewClient(&goredis.Options{Addr: addr})
		_ = cleanup.Del(context.Background(), key, key+":processing").Err()
		_ = cleanup.Close()
		_ = q.Close()
	})
	return q
}

func TestQueue_FIFOAndAck(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, queue.NewEntry(first, time.Now())))
	require.NoError(t, q.Enqueue(ctx, queue.NewEntry(second, time.Now())))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, e.JobID)
	assert.NotEmpty(t, e.Receipt)

	inflight, err := q.rdb.LLen(ctx, q.processing).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), inflight)

	require.NoError(t, q.Ack(ctx, e))
	inflight, err = q.rdb.LLen(ctx, q.processing).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), inflight)

	e, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, e.JobID)
}

func TestQueue_Full(t *testing.T) {
	q := newTestQueue(t, 1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, queue.NewEntry(uuid.New(), time.Now())))
	assert.ErrorIs(t, q.Enqueue(ctx, queue.NewEntry(uuid.New(), time.Now())), queue.ErrQueueFull)
}

func TestQueue_RestoreInflight(t *testing.T) {
	q := newTestQueue(t, 0)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, queue.NewEntry(a, time.Now())))
	require.NoError(t, q.Enqueue(ctx, queue.NewEntry(b, time.Now())))

	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	restored, err := q.RestoreInflight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	e, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, e.JobID, "oldest in-flight entry is redelivered first")
	e, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, e.JobID)
}

func TestQueue_DequeueHonoursContext(t *testing.T) {
	q := newTestQueue(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Close(t *testing.T) {
	q := newTestQueue(t, 0)
	require.NoError(t, q.Close())

	ctx := context.Background()
	assert.ErrorIs(t, q.Enqueue(ctx, queue.NewEntry(uuid.New(), time.Now())), queue.ErrQueueClosed)
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
}
