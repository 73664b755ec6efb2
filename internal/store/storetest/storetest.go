// Package storetest holds the behavioural test suite every store.JobStore
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Harness is one fresh, empty store plus a way to write raw records.
type Harness struct {
	Store store.JobStore
	// PutRecord writes rec as-is, bypassing validation.
	PutRecord func(t *testing.T, rec store.Record)
}

// Base is the creation time used by fixtures. Whole seconds keep SQL
// timestamp precision out of the picture.
var Base = time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)

// NewQueuedJob returns a valid queued job created at Base + offset.
func NewQueuedJob(t *testing.T, offset time.Duration) *domain.Job {
	t.Helper()
	strength := 5
	params, err := domain.ParamsForStrength(strength)
	require.NoError(t, err)
	job, err := domain.NewJob("uploads/"+uuid.NewString()+".wav", "voice.wav", 4096, params, Base.Add(offset), 2*time.Hour)
	require.NoError(t, err)
	return job
}

// Run executes the suite. newHarness must return an isolated store.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newHarness(t)) })
	t.Run("CreateRejectsInvalid", func(t *testing.T) { testCreateRejectsInvalid(t, newHarness(t)) })
	t.Run("UpdateLifecycle", func(t *testing.T) { testUpdateLifecycle(t, newHarness(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newHarness(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newHarness(t)) })
	t.Run("MonotonicProgress", func(t *testing.T) { testMonotonicProgress(t, newHarness(t)) })
	t.Run("QueuePosition", func(t *testing.T) { testQueuePosition(t, newHarness(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newHarness(t)) })
	t.Run("DeleteRacesUpdate", func(t *testing.T) { testDeleteRacesUpdate(t, newHarness(t)) })
	t.Run("CorruptRecord", func(t *testing.T) { testCorruptRecord(t, newHarness(t)) })
	t.Run("CountsAndLists", func(t *testing.T) { testCountsAndLists(t, newHarness(t)) })
}

func testCreateAndGet(t *testing.T, h Harness) {
	ctx := context.Background()
	job := NewQueuedJob(t, 0)

	require.NoError(t, h.Store.Create(ctx, job))

	got, err := h.Store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.JobStatusQueued, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, job.InputRef, got.InputRef)
	assert.Equal(t, job.Filename, got.Filename)
	assert.Equal(t, job.SizeBytes, got.SizeBytes)
	require.NotNil(t, got.Params.Strength)
	assert.Equal(t, 5, *got.Params.Strength)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, job.RetentionDeadline.Equal(got.RetentionDeadline))
	assert.Nil(t, got.Error)

	err = h.Store.Create(ctx, job)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = h.Store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.NoError(t, h.Store.Ping(ctx))
}

func testCreateRejectsInvalid(t *testing.T, h Harness) {
	job := NewQueuedJob(t, 0)
	job.Progress = 150

	err := h.Store.Create(context.Background(), job)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func testUpdateLifecycle(t *testing.T, h Harness) {
	ctx := context.Background()
	job := NewQueuedJob(t, 0)
	require.NoError(t, h.Store.Create(ctx, job))

	// queued -> completed is not an edge
	_, err := h.Store.Update(ctx, job.ID, func(j *domain.Job) error {
		return j.Complete("out", Base, Base)
	})
	require.ErrorIs(t, err, store.ErrConflict)

	started, err := h.Store.Update(ctx, job.ID, func(j *domain.Job) error {
		return j.Start("worker-1", Base.Add(time.Second))
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, started.Status)
	assert.Equal(t, "worker-1", started.WorkerID)
	assert.Equal(t, int64(2), started.Version)

	_, err = h.Store.Update(ctx, job.ID, func(j *domain.Job) error {
		_, err := j.AdvanceProgress(40, Base.Add(2*time.Second))
		return err
	})
	require.NoError(t, err)

	deadline := Base.Add(10 * time.Minute)
	done, err := h.Store.Update(ctx, job.ID, func(j *domain.Job) error {
		return j.Complete("processed/enhanced_voice.wav", Base.Add(3*time.Second), deadline)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)

	got, err := h.Store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "processed/enhanced_voice.wav", got.OutputRef)
	assert.True(t, deadline.Equal(got.RetentionDeadline))
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, int64(4), got.Version)

	// terminal states are sticky
	_, err = h.Store.Update(ctx, job.ID, func(j *domain.Job) error {
		return j.Fail(domain.NewJobError(domain.ErrorKindTimeout, "late"), Base, Base)
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	// an aborted update leaves the record untouched
	sentinel := errors.New("stop")
	_, err = h.Store.Update(ctx, job.ID, func(j *domain.Job) error {
		j.OutputRef = "elsewhere"
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	got, err = h.Store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "processed/enhanced_voice.wav", got.OutputRef)
}

func testUpdateMissing(t *testing.T, h Harness) {
	_, err := h.Store.Update(context.Background(), uuid.New(), func(j *domain.Job) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrentClaim(t *testing.T, h Harness) {
	ctx := context.Background()
	const jobs, workers = 5, 16

	ids := make([]uuid.UUID, jobs)
	for i := range ids {
		job := NewQueuedJob(t, time.Duration(i)*time.Second)
		require.NoError(t, h.Store.Create(ctx, job))
		ids[i] = job.ID
	}

	var wins [jobs]atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i, id := range ids {
				_, err := h.Store.Update(ctx, id, func(j *domain.Job) error {
					return j.Start(fmt.Sprintf("worker-%d", w), Base)
				})
				if err == nil {
					wins[i].Add(1)
				} else {
					assert.ErrorIs(t, err, store.ErrConflict)
				}
			}
		}(w)
	}
	wg.Wait()

	for i := range ids {
		assert.Equal(t, int32(1), wins[i].Load(), "job %d must have exactly one owner", i)
	}
}

func testMonotonicProgress(t *testing.T, h Harness) {
	ctx := context.Background()
	job := NewQueuedJob(t, 0)
	require.NoError(t, h.Store.Create(ctx, job))
	_, err := h.Store.Update(ctx, job.ID, func(j *domain.Job) error { return j.Start("w", Base) })
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 1; p <= 60; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_, err := h.Store.Update(ctx, job.ID, func(j *domain.Job) error {
				_, err := j.AdvanceProgress(p, Base)
				return err
			})
			assert.NoError(t, err)
		}(p)
	}

	last := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		got, err := h.Store.Get(ctx, job.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got.Progress, last, "progress must never decrease")
		last = got.Progress
		select {
		case <-done:
			got, err := h.Store.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, 60, got.Progress)
			return
		default:
		}
	}
}

func testQueuePosition(t *testing.T, h Harness) {
	ctx := context.Background()
	a := NewQueuedJob(t, 0)
	b := NewQueuedJob(t, time.Second)
	c := NewQueuedJob(t, 2*time.Second)
	for _, j := range []*domain.Job{c, a, b} {
		require.NoError(t, h.Store.Create(ctx, j))
	}

	position := func(id uuid.UUID) int {
		p, err := h.Store.QueuePosition(ctx, id)
		require.NoError(t, err)
		return p
	}

	assert.Equal(t, 0, position(a.ID))
	assert.Equal(t, 1, position(b.ID))
	assert.Equal(t, 2, position(c.ID))

	_, err := h.Store.Update(ctx, a.ID, func(j *domain.Job) error { return j.Start("w", Base) })
	require.NoError(t, err)

	assert.Equal(t, 0, position(a.ID), "non-queued job has position 0")
	assert.Equal(t, 0, position(b.ID))
	assert.Equal(t, 1, position(c.ID))
	assert.Equal(t, 0, position(uuid.New()), "missing job has position 0")
}

func testDelete(t *testing.T, h Harness) {
	ctx := context.Background()
	job := NewQueuedJob(t, 0)
	require.NoError(t, h.Store.Create(ctx, job))

	hookErr := errors.New("artifact busy")
	err := h.Store.Delete(ctx, job.ID, func(ctx context.Context, j *domain.Job) error { return hookErr })
	require.ErrorIs(t, err, hookErr)
	_, err = h.Store.Get(ctx, job.ID)
	require.NoError(t, err, "failed hook keeps the record")

	var seen *domain.Job
	err = h.Store.Delete(ctx, job.ID, func(ctx context.Context, j *domain.Job) error {
		seen = j
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, job.InputRef, seen.InputRef)

	_, err = h.Store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, h.Store.Delete(ctx, job.ID, nil), store.ErrNotFound)

	_, err = h.Store.Update(ctx, job.ID, func(j *domain.Job) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound, "writes after delete are discarded")
}

func testDeleteRacesUpdate(t *testing.T, h Harness) {
	ctx := context.Background()
	job := NewQueuedJob(t, 0)
	require.NoError(t, h.Store.Create(ctx, job))
	_, err := h.Store.Update(ctx, job.ID, func(j *domain.Job) error { return j.Start("w", Base) })
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for p := 1; p <= 50; p++ {
			_, err := h.Store.Update(ctx, job.ID, func(j *domain.Job) error {
				_, err := j.AdvanceProgress(p, Base)
				return err
			})
			if err != nil {
				assert.ErrorIs(t, err, store.ErrNotFound)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, h.Store.Delete(ctx, job.ID, nil))
	}()
	wg.Wait()

	_, err = h.Store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCorruptRecord(t *testing.T, h Harness) {
	ctx := context.Background()
	job := NewQueuedJob(t, 0)
	require.NoError(t, job.Start("w", Base))
	require.NoError(t, job.Fail(domain.NewJobError(domain.ErrorKindTransform, "x"), Base, Base.Add(time.Minute)))

	rec, err := store.EncodeJob(job)
	require.NoError(t, err)
	rec.Error = `{"kind": "TransformError"` // truncated mid-write
	h.PutRecord(t, rec)

	got, err := h.Store.Get(ctx, job.ID)
	require.NoError(t, err, "corrupt records never fail a read")
	assert.Equal(t, domain.JobStatusUnknown, got.Status)
	assert.Nil(t, got.Error)

	_, err = h.Store.Update(ctx, job.ID, func(j *domain.Job) error { return nil })
	assert.ErrorIs(t, err, store.ErrCorruptRecord)

	expired, err := h.Store.ListExpired(ctx, Base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, job.ID, expired[0].ID)

	var refs string
	require.NoError(t, h.Store.Delete(ctx, job.ID, func(ctx context.Context, j *domain.Job) error {
		refs = j.InputRef
		return nil
	}))
	assert.Equal(t, job.InputRef, refs)
}

func testCountsAndLists(t *testing.T, h Harness) {
	ctx := context.Background()

	var jobs []*domain.Job
	for i := 0; i < 4; i++ {
		j := NewQueuedJob(t, time.Duration(i)*time.Second)
		require.NoError(t, h.Store.Create(ctx, j))
		jobs = append(jobs, j)
	}
	// jobs[0] processing, jobs[1] completed early, jobs[2..3] queued
	_, err := h.Store.Update(ctx, jobs[0].ID, func(j *domain.Job) error { return j.Start("w0", Base) })
	require.NoError(t, err)
	_, err = h.Store.Update(ctx, jobs[1].ID, func(j *domain.Job) error { return j.Start("w1", Base) })
	require.NoError(t, err)
	_, err = h.Store.Update(ctx, jobs[1].ID, func(j *domain.Job) error {
		return j.Complete("out", Base, Base.Add(5*time.Minute))
	})
	require.NoError(t, err)

	counts, err := h.Store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.JobCounts{Queued: 2, Processing: 1, Completed: 1}, counts)
	assert.Equal(t, 4, counts.Total())

	queued, err := h.Store.ListByStatus(ctx, domain.JobStatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, jobs[2].ID, queued[0].ID)
	assert.Equal(t, jobs[3].ID, queued[1].ID)

	// Only the completed job is past its deadline 6 minutes in; the others
	// carry the 2h max-age bound.
	expired, err := h.Store.ListExpired(ctx, Base.Add(6*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, jobs[1].ID, expired[0].ID)

	expired, err = h.Store.ListExpired(ctx, Base.Add(3*time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, expired, 2, "limit applies")
	assert.Equal(t, jobs[1].ID, expired[0].ID, "earliest deadline first")
}
