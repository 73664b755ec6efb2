package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/events"
	"github.com/phrazzld/openvoice/internal/platform/filestore"
	"github.com/phrazzld/openvoice/internal/platform/logger"
	"github.com/phrazzld/openvoice/internal/platform/memory"
	"github.com/phrazzld/openvoice/internal/queue"
	"github.com/stretchr/testify/require"
)

const testMaxUpload = 64 * 1024

// wavBytes returns a payload that sniffs as audio/wave.
func wavBytes(size int) []byte {
	header := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	if size < len(header) {
		size = len(header)
	}
	return append(header, bytes.Repeat([]byte{0x01}, size-len(header))...)
}

type recorder struct {
	mu     sync.Mutex
	events []*events.JobEvent
}

func (r *recorder) HandleEvent(_ context.Context, ev *events.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types(jobID uuid.UUID) []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.EventType
	for _, ev := range r.events {
		if ev.JobID == jobID {
			out = append(out, ev.Type)
		}
	}
	return out
}

type harness struct {
	store    *memory.JobStore
	queue    *queue.MemoryQueue
	files    *filestore.Store
	dirs     [2]string
	emitter  *events.InMemoryEventEmitter
	waiter   *events.Waiter
	recorded *recorder
	svc      JobService
	now      time.Time
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	queueSize int
	opts      []Option
}

func withQueueSize(n int) harnessOption {
	return func(c *harnessConfig) { c.queueSize = n }
}

func withServiceOptions(opts ...Option) harnessOption {
	return func(c *harnessConfig) { c.opts = append(c.opts, opts...) }
}

func newHarness(t *testing.T, options ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{queueSize: 100}
	for _, o := range options {
		o(&hc)
	}

	log := logger.Discard()
	root := t.TempDir()
	h := &harness{
		store:    memory.NewJobStore(log),
		queue:    queue.NewMemoryQueue(hc.queueSize, log),
		dirs:     [2]string{filepath.Join(root, "uploads"), filepath.Join(root, "processed")},
		emitter:  events.NewInMemoryEventEmitter(log),
		waiter:   events.NewWaiter(),
		recorded: &recorder{},
		now:      time.Now().UTC().Truncate(time.Second),
	}

	files, err := filestore.New(h.dirs[0], h.dirs[1], log)
	require.NoError(t, err)
	h.files = files

	h.emitter.RegisterHandler(h.waiter)
	h.emitter.RegisterHandler(h.recorded)

	opts := append([]Option{
		WithEmitter(h.emitter),
		WithWaiter(h.waiter),
	}, hc.opts...)

	svc, err := NewJobService(
		h.store,
		h.queue,
		h.files,
		enhance.NewUploadValidator(testMaxUpload, []string{"wav", "mp3"}),
		testConfig(),
		log,
		opts...,
	)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func testConfig() Config {
	return Config{
		RetentionWindow: 10 * time.Minute,
		MaxAge:          2 * time.Hour,
		MaxLongPoll:     5 * time.Second,
		DefaultParams:   domain.DefaultParams(12, 0),
	}
}

func (h *harness) submit(t *testing.T, strength *int) *SubmitResult {
	t.Helper()
	body := wavBytes(2048)
	res, err := h.svc.Submit(context.Background(), SubmitRequest{
		Filename: "talk.wav",
		Size:     int64(len(body)),
		Body:     bytes.NewReader(body),
		Strength: strength,
	})
	require.NoError(t, err)
	return res
}

// complete drives a queued job to completed the way a worker would and
// writes its output file.
func (h *harness) complete(t *testing.T, id uuid.UUID) *domain.Job {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	job, err := h.store.Update(ctx, id, func(j *domain.Job) error {
		return j.Start("worker-0", now)
	})
	require.NoError(t, err)

	outputRef := filestore.OutputRef(id, job.Filename)
	_, err = h.files.Save(ctx, outputRef, bytes.NewReader([]byte("enhanced")), 0)
	require.NoError(t, err)

	job, err = h.store.Update(ctx, id, func(j *domain.Job) error {
		return j.Complete(outputRef, now, now.Add(10*time.Minute))
	})
	require.NoError(t, err)
	require.NoError(t, h.emitter.EmitEvent(ctx, events.NewJobEvent(events.JobCompleted, job)))
	return job
}

func (h *harness) dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func intPtr(v int) *int {
	return &v
}
