package events

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// registration is one handler and the event types it receives. An empty
// type list receives every event.
type registration struct {
	handler EventHandler
	types   []EventType
}

func (r registration) wants(t EventType) bool {
	return len(r.types) == 0 || slices.Contains(r.types, t)
}

// InMemoryEventEmitter dispatches job events synchronously to handlers
// registered in the same process. Handlers run on the emitting goroutine,
// usually a worker slot, so they must not block.
type InMemoryEventEmitter struct {
	mu            sync.RWMutex
	registrations []registration
	logger        *slog.Logger
}

// Ensure InMemoryEventEmitter implements EventEmitter interface
var _ EventEmitter = (*InMemoryEventEmitter)(nil)

// NewInMemoryEventEmitter creates an emitter with no handlers.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventEmitter{
		logger: logger.With("component", "job_event_emitter"),
	}
}

// RegisterHandler subscribes handler to the given event types, or to all
// events when none are given.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler, types ...EventType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registrations = append(e.registrations, registration{handler: handler, types: types})
	e.logger.Debug("registered event handler",
		"handler_count", len(e.registrations),
		"event_types", types)
}

// EmitEvent delivers event to every interested handler. A failing or
// panicking handler does not stop delivery to the others; the first
// error is returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *JobEvent) error {
	e.mu.RLock()
	regs := slices.Clone(e.registrations)
	e.mu.RUnlock()

	var firstErr error
	for i, reg := range regs {
		if !reg.wants(event.Type) {
			continue
		}
		if err := deliver(ctx, reg.handler, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_type", event.Type,
				"job_id", event.JobID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func deliver(ctx context.Context, handler EventHandler, event *JobEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("event handler panicked: %v", p)
		}
	}()
	return handler.HandleEvent(ctx, event)
}
