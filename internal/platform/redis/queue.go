package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/phrazzld/openvoice/internal/queue"
	goredis "github.com/redis/go-redis/v9"
)

// blockTimeout bounds a single BLMOVE call so that Dequeue notices Close
// and context cancellation promptly.
const blockTimeout = time.Second

// Options configures a Queue.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Key is the pending list; the processing list is Key + ":processing".
	Key string
	// Size caps the pending list length; 0 disables the check.
	Size int
}

// Queue implements queue.Queue on a pair of Redis lists.
type Queue struct {
	rdb        *goredis.Client
	pending    string
	processing string
	size       int
	logger     *slog.Logger
	closed     atomic.Bool
}

// Ensure Queue implements queue.Queue
var _ queue.Queue = (*Queue)(nil)

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Queue, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return New(rdb, opts.Key, opts.Size, logger), nil
}

// New wraps an existing client. The queue takes ownership of rdb.
func New(rdb *goredis.Client, key string, size int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		rdb:        rdb,
		pending:    key,
		processing: key + ":processing",
		size:       size,
		logger:     logger.With("component", "redis_queue", "key", key),
	}
}

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, e queue.Entry) error {
	if q.closed.Load() {
		return queue.ErrQueueClosed
	}

	if q.size > 0 {
		n, err := q.rdb.LLen(ctx, q.pending).Result()
		if err != nil {
			return fmt.Errorf("failed to read queue length: %w", err)
		}
		if n >= int64(q.size) {
			return fmt.Errorf("%w: queue capacity %d reached", queue.ErrQueueFull, q.size)
		}
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode queue entry: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.pending, payload).Err(); err != nil {
		return fmt.Errorf("failed to push queue entry: %w", err)
	}

	q.logger.Debug("job enqueued", "job_id", e.JobID)
	return nil
}

// Dequeue implements queue.Queue. The returned entry's Receipt is the raw
// payload held on the processing list.
func (q *Queue) Dequeue(ctx context.Context) (queue.Entry, error) {
	for {
		if q.closed.Load() {
			return queue.Entry{}, queue.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return queue.Entry{}, err
		}

		raw, err := q.rdb.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", blockTimeout).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return queue.Entry{}, ctxErr
			}
			if q.closed.Load() {
				return queue.Entry{}, queue.ErrQueueClosed
			}
			return queue.Entry{}, fmt.Errorf("failed to move queue entry: %w", err)
		}

		var e queue.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			q.logger.Error("dropping malformed queue entry", "error", err)
			_ = q.rdb.LRem(ctx, q.processing, 1, raw).Err()
			continue
		}
		e.Receipt = raw
		return e, nil
	}
}

// Ack implements queue.Queue.
func (q *Queue) Ack(ctx context.Context, e queue.Entry) error {
	if e.Receipt == "" {
		return fmt.Errorf("queue entry for job %s has no receipt", e.JobID)
	}
	if err := q.rdb.LRem(ctx, q.processing, 1, e.Receipt).Err(); err != nil {
		return fmt.Errorf("failed to ack queue entry: %w", err)
	}
	return nil
}

// Len implements queue.Queue.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, q.pending).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

// Ping implements queue.Queue.
func (q *Queue) Ping(ctx context.Context) error {
	if q.closed.Load() {
		return queue.ErrQueueClosed
	}
	return q.rdb.Ping(ctx).Err()
}

// RestoreInflight moves entries left on the processing list by a previous
// process back to the consuming end of the pending list, oldest first.
// It must run before any consumer starts.
func (q *Queue) RestoreInflight(ctx context.Context) (int, error) {
	restored := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.pending, "LEFT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return restored, fmt.Errorf("failed to restore in-flight entries: %w", err)
		}
		restored++
	}
	if restored > 0 {
		q.logger.Info("restored in-flight queue entries", "count", restored)
	}
	return restored, nil
}

// Close implements queue.Queue and closes the client.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	q.logger.Info("job queue closed")
	return q.rdb.Close()
}
