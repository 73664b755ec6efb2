// Package queue defines the work hand-off between the gateway and the
// worker pool, and provides an in-memory FIFO implementation.
//
// A Queue carries only job references. The job store stays the source of
// truth: a worker that dequeues an entry whose job is gone or already
// claimed simply drops it.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors returned by Queue implementations.
var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrQueueFull   = errors.New("job queue is full")
)

// Entry is one unit of work: a job id and the time it was enqueued.
type Entry struct {
	JobID      uuid.UUID `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Receipt is an opaque delivery handle set by the backend on Dequeue
	// and required by Ack.
	Receipt string `json:"-"`
}

// NewEntry builds an entry for jobID enqueued at now.
func NewEntry(jobID uuid.UUID, now time.Time) Entry {
	return Entry{JobID: jobID, EnqueuedAt: now.UTC()}
}

// Queue is an ordered, injectable work channel. Entries are delivered in
// FIFO order by enqueue time, each to a single consumer.
type Queue interface {
	// Enqueue appends e. It does not block: a full queue returns ErrQueueFull.
	Enqueue(ctx context.Context, e Entry) error

	// Dequeue blocks until an entry is available, ctx is done or the queue
	// is closed (ErrQueueClosed).
	Dequeue(ctx context.Context) (Entry, error)

	// Ack confirms that e has been handled and must not be redelivered.
	Ack(ctx context.Context, e Entry) error

	// Len returns the number of entries waiting for a consumer.
	Len(ctx context.Context) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close stops accepting entries and wakes blocked consumers.
	Close() error
}
