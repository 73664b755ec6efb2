package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Waiter is an EventHandler that wakes subscribers when a job receives an
// event. It backs long-polling on job status.
type Waiter struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*subscription]struct{}
}

type subscription struct {
	ch chan *JobEvent
}

// Ensure Waiter implements EventHandler interface
var _ EventHandler = (*Waiter)(nil)

// NewWaiter creates an empty Waiter.
func NewWaiter() *Waiter {
	return &Waiter{subs: make(map[uuid.UUID]map[*subscription]struct{})}
}

// Subscribe registers interest in jobID. The channel receives the latest
// event for the job; intermediate events may be coalesced. cancel must be
// called once the subscriber is done.
func (w *Waiter) Subscribe(jobID uuid.UUID) (<-chan *JobEvent, func()) {
	sub := &subscription{ch: make(chan *JobEvent, 1)}

	w.mu.Lock()
	if w.subs[jobID] == nil {
		w.subs[jobID] = make(map[*subscription]struct{})
	}
	w.subs[jobID][sub] = struct{}{}
	w.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.subs[jobID], sub)
			if len(w.subs[jobID]) == 0 {
				delete(w.subs, jobID)
			}
		})
	}
	return sub.ch, cancel
}

// HandleEvent implements EventHandler. It never blocks.
func (w *Waiter) HandleEvent(_ context.Context, event *JobEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for sub := range w.subs[event.JobID] {
		// Replace any unread event with the newer one.
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- event
	}
	return nil
}

// Len returns the number of jobs with active subscribers.
func (w *Waiter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}
