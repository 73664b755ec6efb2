package task

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
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

type runFunc func(ctx context.Context, req enhance.Request, progress enhance.ProgressFunc) error

// milestoneRun reports every stage and copies nothing; the output file is
// written so completion can be checked on disk.
func milestoneRun(ctx context.Context, req enhance.Request, progress enhance.ProgressFunc) error {
	return enhance.Passthrough{}.Enhance(ctx, req, progress)
}

type fakeEnhancer struct {
	run    runFunc
	closed atomic.Bool
}

func (e *fakeEnhancer) Enhance(ctx context.Context, req enhance.Request, progress enhance.ProgressFunc) error {
	return e.run(ctx, req, progress)
}

func (e *fakeEnhancer) Close() error {
	e.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu        sync.Mutex
	run       runFunc
	enhancers []*fakeEnhancer
}

func (f *fakeFactory) factory() enhance.Factory {
	return func() (enhance.Enhancer, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		e := &fakeEnhancer{run: f.run}
		f.enhancers = append(f.enhancers, e)
		return e, nil
	}
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enhancers)
}

func (f *fakeFactory) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.enhancers {
		if e.closed.Load() {
			n++
		}
	}
	return n
}

// eventRecorder keeps every event per job.
type eventRecorder struct {
	mu     sync.Mutex
	events map[uuid.UUID][]*events.JobEvent
}

func (r *eventRecorder) HandleEvent(_ context.Context, event *events.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.JobID] = append(r.events[event.JobID], event)
	return nil
}

func (r *eventRecorder) forJob(id uuid.UUID) []*events.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*events.JobEvent(nil), r.events[id]...)
}

type harness struct {
	store   *memory.JobStore
	queue   *queue.MemoryQueue
	files   *filestore.Store
	factory *fakeFactory
	events  *eventRecorder
	pool    *Pool

	cancel context.CancelFunc
	done   chan error
}

func testConfig() Config {
	return Config{
		WorkerCount:     1,
		RetentionWindow: 10 * time.Minute,
		AbandonGrace:    50 * time.Millisecond,
		RetryBackoff:    10 * time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config, run runFunc, opts ...Option) *harness {
	t.Helper()
	log := logger.Discard()

	root := t.TempDir()
	files, err := filestore.New(root+"/uploads", root+"/processed", log)
	require.NoError(t, err)

	emitter := events.NewInMemoryEventEmitter(log)
	recorder := &eventRecorder{events: make(map[uuid.UUID][]*events.JobEvent)}
	emitter.RegisterHandler(recorder)

	h := &harness{
		store:   memory.NewJobStore(log),
		queue:   queue.NewMemoryQueue(1000, log),
		files:   files,
		factory: &fakeFactory{run: run},
		events:  recorder,
	}
	opts = append([]Option{WithEmitter(emitter)}, opts...)
	h.pool = NewPool(h.store, h.queue, h.files, h.factory.factory(), cfg, log, opts...)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.pool.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

// createJob stores an upload and a queued job without enqueueing it.
func (h *harness) createJob(t *testing.T) *domain.Job {
	t.Helper()
	ctx := context.Background()

	id := uuid.New()
	ref := filestore.UploadRef(id, "talk.wav")
	size, err := h.files.Save(ctx, ref, strings.NewReader("RIFF audio"), 0)
	require.NoError(t, err)

	params, err := domain.ParamsForStrength(7)
	require.NoError(t, err)
	job, err := domain.NewJob(ref, "talk.wav", size, params, time.Now(), 2*time.Hour)
	require.NoError(t, err)
	require.NoError(t, h.store.Create(ctx, job))
	return job
}

// submit creates a job and enqueues it.
func (h *harness) submit(t *testing.T) *domain.Job {
	t.Helper()
	job := h.createJob(t)
	require.NoError(t, h.queue.Enqueue(context.Background(), queue.NewEntry(job.ID, job.CreatedAt)))
	return job
}

// waitStatus polls the store until the job has status.
func (h *harness) waitStatus(t *testing.T, id uuid.UUID, status domain.JobStatus) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		j, err := h.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, status)
	return job
}

// waitEvent waits until the job has received an event of eventType.
func (h *harness) waitEvent(t *testing.T, id uuid.UUID, eventType events.EventType) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, ev := range h.events.forJob(id) {
			if ev.Type == eventType {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "job %s never received %s", id, eventType)
}

// gate blocks enhancer runs until released.
type gate struct {
	started chan uuid.UUID
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{started: make(chan uuid.UUID, 100), release: make(chan struct{})}
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

// run reports the load milestone, then blocks until released or ctx ends.
func (g *gate) run(ctx context.Context, req enhance.Request, progress enhance.ProgressFunc) error {
	progress(10)
	g.started <- uuid.MustParse(req.JobID)
	select {
	case <-g.release:
		return milestoneRun(ctx, req, progress)
	case <-ctx.Done():
		return ctx.Err()
	}
}
