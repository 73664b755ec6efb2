package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/events"
	"github.com/phrazzld/openvoice/internal/platform/logger"
	"github.com/phrazzld/openvoice/internal/platform/memory"
	"github.com/phrazzld/openvoice/internal/queue"
	"github.com/phrazzld/openvoice/internal/store"
	"github.com/phrazzld/openvoice/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobService_RequiresDependencies(t *testing.T) {
	t.Parallel()

	log := logger.Discard()
	jobStore := memory.NewJobStore(log)
	q := queue.NewMemoryQueue(1, log)
	uploads := enhance.NewUploadValidator(1, []string{"wav"})

	_, err := NewJobService(nil, q, nil, uploads, testConfig(), log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobStore cannot be nil")

	_, err = NewJobService(jobStore, nil, nil, uploads, testConfig(), log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobQueue cannot be nil")

	_, err = NewJobService(jobStore, q, nil, uploads, testConfig(), log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifacts cannot be nil")
}

func TestSubmit_CreatesQueuedJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	res := h.submit(t, intPtr(7))

	job := res.Job
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, "talk.wav", job.Filename)
	assert.Equal(t, int64(2048), job.SizeBytes)
	assert.Equal(t, 20.0, job.Params.AttenuationLimitDB)
	assert.Equal(t, 1.3, job.Params.OutputGainDB)
	assert.True(t, strings.HasPrefix(job.InputRef, "upload/"))
	assert.Equal(t, 0, res.QueuePosition)
	assert.Equal(t, time.Duration(0), res.EstimatedWait)
	assert.Equal(t, 10*time.Minute, res.RetentionWindow)
	assert.Equal(t, job.CreatedAt.Add(2*time.Hour), job.RetentionDeadline)

	stored, err := h.store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)

	n, err := h.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, entry.JobID)

	assert.True(t, h.files.Exists(job.InputRef))
	assert.Equal(t, []events.EventType{events.JobQueued}, h.recorded.types(job.ID))
}

func TestSubmit_DefaultParamsWithoutStrength(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.submit(t, nil)

	assert.Nil(t, res.Job.Params.Strength)
	assert.Equal(t, 12.0, res.Job.Params.AttenuationLimitDB)
	assert.Equal(t, 0.0, res.Job.Params.OutputGainDB)
}

func TestSubmit_ValidationLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		size     int64
		body     []byte
		strength *int
		wantErr  error
	}{
		{"extension", "notes.txt", 2048, wavBytes(2048), nil, enhance.ErrExtensionNotAllowed},
		{"no extension", "audio", 2048, wavBytes(2048), nil, enhance.ErrExtensionNotAllowed},
		{"declared too large", "talk.wav", testMaxUpload + 1, wavBytes(16), nil, enhance.ErrFileTooLarge},
		{"streamed too large", "talk.wav", -1, wavBytes(testMaxUpload + 10), nil, enhance.ErrFileTooLarge},
		{"empty", "talk.wav", -1, nil, nil, enhance.ErrEmptyFile},
		{"not audio", "talk.wav", -1, []byte("<html><body>hello</body></html>"), nil, enhance.ErrNotAudio},
		{"strength too high", "talk.wav", 2048, wavBytes(2048), intPtr(11), domain.ErrInvalidStrength},
		{"strength negative", "talk.wav", 2048, wavBytes(2048), intPtr(-1), domain.ErrInvalidStrength},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			ctx := context.Background()

			_, err := h.svc.Submit(ctx, SubmitRequest{
				Filename: tc.filename,
				Size:     tc.size,
				Body:     bytes.NewReader(tc.body),
				Strength: tc.strength,
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			var validationErr *domain.ValidationError
			assert.ErrorAs(t, err, &validationErr)

			counts, err := h.store.Counts(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, counts.Total())
			n, err := h.queue.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			assert.Equal(t, 0, h.dirEntries(t, h.dirs[0]))
		})
	}
}

func TestSubmit_QueueFullWithdrawsJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withQueueSize(1))
	ctx := context.Background()

	h.submit(t, nil)

	body := wavBytes(512)
	_, err := h.svc.Submit(ctx, SubmitRequest{Filename: "second.wav", Size: -1, Body: bytes.NewReader(body)})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServiceBusy)
	assert.ErrorIs(t, err, queue.ErrQueueFull)

	counts, err := h.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total(), "only the first job should remain")
	assert.Equal(t, 1, h.dirEntries(t, h.dirs[0]), "the withdrawn upload should be removed")
}

func TestStatus_QueuePositionIsFIFO(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	a := h.submit(t, nil)
	time.Sleep(2 * time.Millisecond)
	b := h.submit(t, nil)
	time.Sleep(2 * time.Millisecond)
	c := h.submit(t, nil)

	assert.Equal(t, 0, a.QueuePosition)
	assert.Equal(t, 1, b.QueuePosition)
	assert.Equal(t, 2, c.QueuePosition)
	assert.Equal(t, 60*time.Second, c.EstimatedWait)

	// Once A is processing it still counts as ahead of B and C, but it
	// has no position itself.
	_, err := h.store.Update(ctx, a.Job.ID, func(j *domain.Job) error {
		return j.Start("worker-0", time.Now())
	})
	require.NoError(t, err)

	for _, tc := range []struct {
		id   uuid.UUID
		want int
	}{{a.Job.ID, 0}, {b.Job.ID, 1}, {c.Job.ID, 2}} {
		res, err := h.svc.Status(ctx, tc.id, 0)
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.QueuePosition)
	}

	estimator := NewPositionEstimator(h.store)
	pos, err := estimator.Position(ctx, c.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos, "only B is still queued ahead of C")
}

func TestStatus_NotFoundAndExpired(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Status(ctx, uuid.New(), 0)
	assert.ErrorIs(t, err, ErrJobNotFound)

	res := h.submit(t, nil)
	later := newHarness(t, withServiceOptions(WithClock(func() time.Time { return time.Now().Add(3 * time.Hour) })))
	require.NoError(t, later.store.Create(ctx, res.Job))

	_, err = later.svc.Status(ctx, res.Job.ID, 0)
	assert.ErrorIs(t, err, ErrJobExpired)
}

func TestStatus_CorruptRecordDegradesToUnknown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := domain.NewJob("upload/x.wav", "x.wav", 1, domain.EnhanceParams{}, time.Now(), time.Hour)
	require.NoError(t, err)
	rec, err := store.EncodeJob(job)
	require.NoError(t, err)
	rec.Status = "failed"
	rec.Error = `{"kind": 42, "message": ["not", "a", "string"]}`
	h.store.PutRecord(job.ID, rec)

	res, err := h.svc.Status(ctx, job.ID, time.Second)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusUnknown, res.Job.Status)
	assert.Nil(t, res.Job.Error)
	assert.Equal(t, 0, res.QueuePosition)
}

func TestStatus_TerminalReportsTimeUntilDeletion(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	res := h.submit(t, nil)
	h.complete(t, res.Job.ID)

	status, err := h.svc.Status(ctx, res.Job.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, status.Job.Status)
	assert.Equal(t, 100, status.Job.Progress)
	require.NotNil(t, status.TimeUntilDeletion)
	assert.InDelta(t, (10 * time.Minute).Seconds(), status.TimeUntilDeletion.Seconds(), 5)
}

func TestStatus_LongPollWakesOnCompletion(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.submit(t, nil)

	done := make(chan *StatusResult, 1)
	go func() {
		status, err := h.svc.Status(context.Background(), res.Job.ID, 5*time.Second)
		if err == nil {
			done <- status
		}
		close(done)
	}()

	require.Eventually(t, func() bool { return h.waiter.Len() == 1 }, time.Second, 5*time.Millisecond)
	start := time.Now()
	h.complete(t, res.Job.ID)

	select {
	case status := <-done:
		require.NotNil(t, status)
		assert.Equal(t, domain.JobStatusCompleted, status.Job.Status)
		assert.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("long poll did not return after completion")
	}
	assert.Equal(t, 0, h.waiter.Len(), "subscription should be released")
}

func TestStatus_LongPollTimesOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.submit(t, nil)

	start := time.Now()
	status, err := h.svc.Status(context.Background(), res.Job.ID, 100*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, status.Job.Status)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestStatus_LongPollHonoursContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.submit(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.svc.Status(ctx, res.Job.ID, 5*time.Second)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Result(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)

	res := h.submit(t, nil)
	_, err = h.svc.Result(ctx, res.Job.ID)
	assert.ErrorIs(t, err, ErrJobNotCompleted)

	job := h.complete(t, res.Job.ID)
	artifact, err := h.svc.Result(ctx, res.Job.ID)
	require.NoError(t, err)
	defer artifact.Content.Close()

	data, err := io.ReadAll(artifact.Content)
	require.NoError(t, err)
	assert.Equal(t, "enhanced", string(data))
	assert.Equal(t, "enhanced_talk.wav", artifact.Name)
	assert.Equal(t, int64(8), artifact.Size)

	// A completed job whose output vanished reads as expired.
	require.NoError(t, h.files.Delete(ctx, job.OutputRef))
	_, err = h.svc.Result(ctx, res.Job.ID)
	assert.ErrorIs(t, err, ErrJobExpired)
}

func TestDelete_IsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	res := h.submit(t, nil)
	job := h.complete(t, res.Job.ID)

	existed, err := h.svc.Delete(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = h.svc.Delete(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = h.store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, h.files.Exists(job.InputRef))
	assert.False(t, h.files.Exists(job.OutputRef))
	assert.Contains(t, h.recorded.types(job.ID), events.JobDeleted)
}

func TestDelete_CorruptRecordWithMalformedRef(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := domain.NewJob("upload/x.wav", "x.wav", 1, domain.EnhanceParams{}, time.Now(), time.Hour)
	require.NoError(t, err)
	rec, err := store.EncodeJob(job)
	require.NoError(t, err)
	rec.Status = "failed"
	rec.Error = `{"kind":`
	rec.InputRef = "upl"
	h.store.PutRecord(job.ID, rec)

	existed, err := h.svc.Delete(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = h.store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// failingArtifacts fails every deletion.
type failingArtifacts struct {
	Artifacts
}

func (failingArtifacts) Delete(context.Context, ...string) error {
	return errors.New("permission denied")
}

func TestDelete_KeepsRecordWhenArtifactsRemain(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	res := h.submit(t, nil)

	svc, err := NewJobService(h.store, h.queue, failingArtifacts{h.files},
		enhance.NewUploadValidator(testMaxUpload, []string{"wav"}), testConfig(), logger.Discard())
	require.NoError(t, err)

	_, err = svc.Delete(ctx, res.Job.ID)
	require.Error(t, err)
	var svcErr *JobServiceError
	assert.ErrorAs(t, err, &svcErr)

	_, err = h.store.Get(ctx, res.Job.ID)
	assert.NoError(t, err, "the record must survive so deletion can be retried")
}

func TestQueueStats(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	first := h.submit(t, nil)
	h.submit(t, nil)
	h.submit(t, nil)
	done := h.submit(t, nil)
	h.complete(t, done.Job.ID)

	_, err := h.store.Update(ctx, first.Job.ID, func(j *domain.Job) error {
		return j.Start("worker-0", time.Now())
	})
	require.NoError(t, err)

	stats, err := h.svc.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Active: 1, Pending: 2, Total: 3}, stats)
}

type staticWorkers []task.SlotStatus

func (w staticWorkers) Slots() []task.SlotStatus { return w }

func TestHealth(t *testing.T) {
	t.Parallel()
	slots := staticWorkers{{ID: "worker-0", State: task.SlotIdle}}
	h := newHarness(t, withServiceOptions(WithWorkers(slots)))
	ctx := context.Background()

	h.submit(t, nil)
	report := h.svc.Health(ctx)

	assert.True(t, report.Healthy)
	assert.Equal(t, ComponentOK, report.Store)
	assert.Equal(t, ComponentOK, report.Queue)
	assert.Equal(t, 1, report.QueueLength)
	assert.Equal(t, int64(testMaxUpload), report.MaxUploadBytes)
	assert.Equal(t, []string{"wav", "mp3"}, report.AllowedExtensions)
	assert.Equal(t, 10*time.Minute, report.RetentionWindow)
	assert.Equal(t, []task.SlotStatus(slots), report.Workers)

	require.NoError(t, h.queue.Close())
	report = h.svc.Health(ctx)
	assert.False(t, report.Healthy)
	assert.Equal(t, ComponentUnavailable, report.Queue)
}
