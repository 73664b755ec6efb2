package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/queue"
)

// SlotState is the lifecycle state of a worker slot.
type SlotState string

// Possible slot states
const (
	SlotStarting  SlotState = "starting"
	SlotIdle      SlotState = "idle"
	SlotBusy      SlotState = "busy"
	SlotRecycling SlotState = "recycling"
	SlotStopped   SlotState = "stopped"
)

// SlotStatus is a point-in-time view of a slot.
type SlotStatus struct {
	ID    string    `json:"id"`
	State SlotState `json:"state"`
	// JobID is set while the slot is busy.
	JobID string `json:"job_id,omitempty"`
	// TasksDone counts jobs since the last recycle.
	TasksDone int `json:"tasks_done"`
	Recycles  int `json:"recycles"`
}

// slot is one execution unit. Only its own goroutine touches enhancer;
// the mutex guards the fields read by status.
type slot struct {
	id       string
	pool     *Pool
	logger   *slog.Logger
	enhancer enhance.Enhancer

	mu        sync.Mutex
	state     SlotState
	jobID     uuid.UUID
	tasksDone int
	recycles  int
}

func newSlot(index int, p *Pool) *slot {
	id := fmt.Sprintf("worker-%d", index)
	return &slot{
		id:     id,
		pool:   p,
		logger: p.logger.With("worker_id", id),
		state:  SlotStarting,
	}
}

func (s *slot) status() SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SlotStatus{
		ID:        s.id,
		State:     s.state,
		TasksDone: s.tasksDone,
		Recycles:  s.recycles,
	}
	if s.jobID != uuid.Nil {
		st.JobID = s.jobID.String()
	}
	return st
}

func (s *slot) setState(state SlotState, jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.jobID = jobID
}

// run is the slot loop: ensure an enhancer, take one entry, process it,
// then consult the recycle policy before taking the next one.
func (s *slot) run(ctx context.Context) error {
	s.logger.Debug("starting worker slot")
	defer s.stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if s.enhancer == nil {
			s.setState(SlotStarting, uuid.Nil)
			enh, err := s.pool.factory()
			if err != nil {
				s.logger.Error("failed to create enhancer", "error", err)
				if sleep(ctx, s.pool.config.RetryBackoff) != nil {
					return nil
				}
				continue
			}
			s.enhancer = enh
		}

		s.setState(SlotIdle, uuid.Nil)
		entry, err := s.pool.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				s.logger.Debug("job queue closed, stopping worker slot")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("failed to dequeue job", "error", err)
			if sleep(ctx, s.pool.config.RetryBackoff) != nil {
				return nil
			}
			continue
		}

		processed, abandoned := s.pool.handle(ctx, s, entry)
		if !processed {
			continue
		}

		s.mu.Lock()
		s.tasksDone++
		done := s.tasksDone
		s.mu.Unlock()

		if abandoned {
			s.recycle("enhancer abandoned after timeout", false)
			continue
		}
		if ok, reason := s.pool.config.Policy.ShouldRecycle(done); ok {
			s.recycle(reason, true)
		}
	}
}

// recycle drops the slot's enhancer and in-process caches. The next loop
// iteration builds a fresh enhancer before accepting work.
func (s *slot) recycle(reason string, closeEnhancer bool) {
	s.setState(SlotRecycling, uuid.Nil)

	if closeEnhancer && s.enhancer != nil {
		if err := s.enhancer.Close(); err != nil {
			s.logger.Warn("failed to close enhancer during recycle", "error", err)
		}
	}
	s.enhancer = nil

	runtime.GC()
	debug.FreeOSMemory()

	s.mu.Lock()
	s.recycles++
	s.tasksDone = 0
	recycles := s.recycles
	s.mu.Unlock()

	s.logger.Info("recycled worker slot", "reason", reason, "recycles", recycles)
}

func (s *slot) stop() {
	if s.enhancer != nil {
		if err := s.enhancer.Close(); err != nil {
			s.logger.Warn("failed to close enhancer", "error", err)
		}
		s.enhancer = nil
	}
	s.setState(SlotStopped, uuid.Nil)
	s.logger.Debug("stopped worker slot")
}
