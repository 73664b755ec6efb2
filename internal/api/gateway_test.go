package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/api/middleware"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/events"
	"github.com/phrazzld/openvoice/internal/platform/filestore"
	"github.com/phrazzld/openvoice/internal/platform/logger"
	"github.com/phrazzld/openvoice/internal/platform/memory"
	"github.com/phrazzld/openvoice/internal/queue"
	"github.com/phrazzld/openvoice/internal/service"
	"github.com/phrazzld/openvoice/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateway struct {
	router http.Handler
	store  *memory.JobStore
	files  *filestore.Store
}

// newGateway serves the handlers over a real service backed by the
// in-memory store and queue. No workers run.
func newGateway(t *testing.T) *gateway {
	t.Helper()
	log := logger.Discard()
	root := t.TempDir()

	files, err := filestore.New(filepath.Join(root, "uploads"), filepath.Join(root, "processed"), log)
	require.NoError(t, err)

	jobs := memory.NewJobStore(log)
	emitter := events.NewInMemoryEventEmitter(log)
	waiter := events.NewWaiter()
	emitter.RegisterHandler(waiter)

	svc, err := service.NewJobService(
		jobs,
		queue.NewMemoryQueue(10, log),
		files,
		enhance.NewUploadValidator(testMaxUpload, []string{"wav", "mp3"}),
		service.Config{
			RetentionWindow: 10 * time.Minute,
			MaxAge:          time.Hour,
			MaxLongPoll:     time.Second,
			DefaultParams:   domain.DefaultParams(12, 0),
		},
		log,
		service.WithEmitter(emitter),
		service.WithWaiter(waiter),
	)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewTraceMiddleware(log))
	NewJobHandler(svc, testMaxUpload, log).Routes(r)

	return &gateway{router: r, store: jobs, files: files}
}

func (g *gateway) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

func wavPayload(size int) []byte {
	header := []byte("RIFF\x24\x00\x00\x00WAVEfmt ")
	return append(header, bytes.Repeat([]byte{0x02}, size-len(header))...)
}

func (g *gateway) submit(t *testing.T, filename string, content []byte, strength *string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, content, strength)
	req := httptest.NewRequest(http.MethodPost, "/jobs", body)
	req.Header.Set("Content-Type", contentType)
	return g.do(req)
}

func TestGateway_SubmitStatusDelete(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	w := g.submit(t, "talk.wav", wavPayload(4096), strPtr("7"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	submitted := decode[SubmitResponse](t, w)
	assert.Equal(t, "queued", submitted.Status)
	assert.Equal(t, 0, submitted.QueuePosition)
	assert.Equal(t, "talk.wav", submitted.Filename)

	w = g.do(httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.TaskID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[StatusResponse](t, w)
	assert.Equal(t, "queued", status.Status)
	assert.False(t, status.DownloadReady)
	assert.Nil(t, status.TimeUntilDeletionSeconds)

	w = g.do(httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.TaskID+"/result", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = g.do(httptest.NewRequest(http.MethodGet, "/queue", nil))
	assert.JSONEq(t, `{"active":0,"pending":1,"total":1}`, w.Body.String())

	w = g.do(httptest.NewRequest(http.MethodDelete, "/jobs/"+submitted.TaskID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[DeleteResponse](t, w).Deleted)

	w = g.do(httptest.NewRequest(http.MethodDelete, "/jobs/"+submitted.TaskID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[DeleteResponse](t, w).Deleted)

	w = g.do(httptest.NewRequest(http.MethodGet, "/jobs/"+submitted.TaskID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGateway_RejectsUploads(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	tests := []struct {
		name     string
		filename string
		content  []byte
		want     int
	}{
		{name: "extension not allowed", filename: "notes.txt", content: wavPayload(64), want: http.StatusBadRequest},
		{name: "empty file", filename: "empty.wav", content: []byte{}, want: http.StatusBadRequest},
		{name: "not audio", filename: "fake.wav", content: []byte("<html><body>hello</body></html>"), want: http.StatusUnsupportedMediaType},
		{name: "too large", filename: "big.wav", content: wavPayload(testMaxUpload + 1), want: http.StatusRequestEntityTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := g.submit(t, tc.filename, tc.content, nil)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}

	w := g.do(httptest.NewRequest(http.MethodGet, "/queue", nil))
	assert.JSONEq(t, `{"active":0,"pending":0,"total":0}`, w.Body.String())
}

func TestGateway_CorruptRecordReportsUnknown(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	now := time.Now().UTC()
	job, err := domain.NewJob("uploads/x.wav", "x.wav", 10, domain.DefaultParams(12, 0), now, time.Hour)
	require.NoError(t, err)
	rec, err := store.EncodeJob(job)
	require.NoError(t, err)
	rec.Status = "failed"
	rec.Error = `{"kind":"Exploded","message":"???"}`
	g.store.PutRecord(job.ID, rec)

	w := g.do(httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID.String(), nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	status := decode[StatusResponse](t, w)
	assert.Equal(t, "unknown", status.Status)
	assert.Nil(t, status.Error)
}

func TestGateway_DownloadCompletedJob(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	w := g.submit(t, "talk.wav", wavPayload(1024), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := uuid.MustParse(decode[SubmitResponse](t, w).TaskID)

	ctx := context.Background()
	now := time.Now().UTC()
	_, err := g.store.Update(ctx, id, func(j *domain.Job) error { return j.Start("worker-0", now) })
	require.NoError(t, err)
	outputRef := filestore.OutputRef(id, "talk.wav")
	_, err = g.files.Save(ctx, outputRef, bytes.NewReader([]byte("clean speech")), 0)
	require.NoError(t, err)
	_, err = g.store.Update(ctx, id, func(j *domain.Job) error {
		return j.Complete(outputRef, now, now.Add(10*time.Minute))
	})
	require.NoError(t, err)

	w = g.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id.String()+"?wait=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[StatusResponse](t, w)
	assert.Equal(t, "completed", status.Status)
	assert.True(t, status.DownloadReady)
	require.NotNil(t, status.TimeUntilDeletionSeconds)
	assert.InDelta(t, 600, *status.TimeUntilDeletionSeconds, 5)

	w = g.do(httptest.NewRequest(http.MethodGet, "/jobs/"+id.String()+"/result", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "clean speech", w.Body.String())
	assert.Equal(t, `attachment; filename=enhanced_talk.wav`, w.Header().Get("Content-Disposition"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
