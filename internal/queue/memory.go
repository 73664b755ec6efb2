package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MemoryQueue implements Queue on a buffered channel. Entries do not
// survive a restart; the worker pool's startup recovery re-enqueues
// queued jobs from the store.
type MemoryQueue struct {
	entries chan Entry
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue that holds up to size entries.
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		entries: make(chan Entry, size),
		logger:  logger.With("component", "memory_queue"),
	}
}

// Ensure MemoryQueue implements Queue interface
var _ Queue = (*MemoryQueue)(nil)

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, e Entry) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.entries <- e:
		q.logger.Debug("job enqueued",
			"job_id", e.JobID,
			"queue_len", len(q.entries),
			"queue_cap", cap(q.entries))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.entries))
	}
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Entry, error) {
	select {
	case e, ok := <-q.entries:
		if !ok {
			return Entry{}, ErrQueueClosed
		}
		return e, nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// Ack implements Queue. Channel delivery is already final.
func (q *MemoryQueue) Ack(ctx context.Context, e Entry) error {
	return nil
}

// Len implements Queue.
func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	return len(q.entries), nil
}

// Ping implements Queue.
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// Close implements Queue. Entries already buffered are still delivered.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.entries)
		q.logger.Info("job queue closed")
	}
	return nil
}
