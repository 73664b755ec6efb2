package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := NewWaiter()
	jobID := uuid.New()

	ch, cancel := w.Subscribe(jobID)
	other, cancelOther := w.Subscribe(jobID)
	assert.Equal(t, 1, w.Len())

	require.NoError(t, w.HandleEvent(ctx, &JobEvent{JobID: uuid.New(), Type: JobStarted}))
	select {
	case <-ch:
		t.Fatal("event for another job delivered")
	default:
	}

	require.NoError(t, w.HandleEvent(ctx, &JobEvent{JobID: jobID, Type: JobProgress, Progress: 40}))
	require.NoError(t, w.HandleEvent(ctx, &JobEvent{JobID: jobID, Type: JobCompleted, Progress: 100}))

	select {
	case ev := <-ch:
		assert.Equal(t, JobCompleted, ev.Type, "unread events are coalesced to the latest")
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	ev := <-other
	assert.Equal(t, JobCompleted, ev.Type)

	cancel()
	cancel()
	assert.Equal(t, 1, w.Len())
	cancelOther()
	assert.Equal(t, 0, w.Len())

	require.NoError(t, w.HandleEvent(ctx, &JobEvent{JobID: jobID, Type: JobDeleted}), "no subscribers is fine")
}
