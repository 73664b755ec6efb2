package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobEvent(t *testing.T) {
	job, err := domain.NewJob("upload/a.wav", "a.wav", 10, domain.EnhanceParams{}, time.Now(), time.Hour)
	require.NoError(t, err)

	event := NewJobEvent(JobQueued, job)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, JobQueued, event.Type)
	assert.Equal(t, job.ID, event.JobID)
	assert.Equal(t, domain.JobStatusQueued, event.Status)
	assert.Equal(t, 0, event.Progress)
	assert.WithinDuration(t, time.Now(), event.CreatedAt, 2*time.Second)
}

func TestEventTypeIsFinal(t *testing.T) {
	assert.False(t, JobQueued.IsFinal())
	assert.False(t, JobStarted.IsFinal())
	assert.False(t, JobProgress.IsFinal())
	assert.True(t, JobCompleted.IsFinal())
	assert.True(t, JobFailed.IsFinal())
	assert.True(t, JobDeleted.IsFinal())
}

// MockEventHandler implements the EventHandler interface for testing
type MockEventHandler struct {
	// The last event received by this handler
	LastEvent *JobEvent
	// Error to return from HandleEvent
	HandlerError error
	// Count of events handled
	HandledCount int
}

// HandleEvent implements the EventHandler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event *JobEvent) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestNopEmitter(t *testing.T) {
	event := &JobEvent{ID: uuid.New(), Type: JobFailed, JobID: uuid.New()}
	assert.NoError(t, NopEmitter{}.EmitEvent(context.Background(), event))
	assert.NoError(t, (&MockEventHandler{}).HandleEvent(context.Background(), event))
	assert.Error(t, (&MockEventHandler{HandlerError: errors.New("x")}).HandleEvent(context.Background(), event))
}
