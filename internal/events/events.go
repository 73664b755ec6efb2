package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
)

// EventType names a job lifecycle change.
type EventType string

// Job lifecycle event types.
const (
	JobQueued    EventType = "job.queued"
	JobStarted   EventType = "job.started"
	JobProgress  EventType = "job.progress"
	JobCompleted EventType = "job.completed"
	JobFailed    EventType = "job.failed"
	JobDeleted   EventType = "job.deleted"
)

// IsFinal reports whether no further events follow for the job.
func (t EventType) IsFinal() bool {
	return t == JobCompleted || t == JobFailed || t == JobDeleted
}

// JobEvent describes one lifecycle change of a job.
type JobEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type     EventType        `json:"type"`
	JobID    uuid.UUID        `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	Progress int              `json:"progress"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewJobEvent creates an event of eventType from the job's current state.
func NewJobEvent(eventType EventType, job *domain.Job) *JobEvent {
	return &JobEvent{
		ID:        uuid.New(),
		Type:      eventType,
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		CreatedAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *JobEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the worker pool to publish changes without knowing who listens.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *JobEvent) error
}

// NopEmitter drops every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *JobEvent) error { return nil }
