package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/openvoice/internal/api/shared"
	"github.com/phrazzld/openvoice/internal/platform/logger"
	"github.com/phrazzld/openvoice/internal/service"
)

const (
	// multipartOverhead is allowed on top of the upload limit for form
	// boundaries and the non-file fields.
	multipartOverhead = 1 << 20

	// multipartMemory is how much of a form is buffered in memory before
	// spilling to temporary files.
	multipartMemory = 8 << 20
)

// audioContentTypes covers the upload extensions, which the mime
// package only knows when the host has a mime.types file.
var audioContentTypes = map[string]string{
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".wma":  "audio/x-ms-wma",
}

// contentTypeFor returns the media type to serve a result file with.
func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := audioContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobs           service.JobService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs service.JobService, maxUploadBytes int64, logger *slog.Logger) *JobHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for JobHandler")
	}

	return &JobHandler{
		jobs:           jobs,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "job_handler")),
	}
}

// Routes registers the job endpoints on r.
func (h *JobHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.Submit)
	r.Get("/jobs/{id}", h.Status)
	r.Get("/jobs/{id}/result", h.Result)
	r.Delete("/jobs/{id}", h.Delete)
	r.Get("/queue", h.Queue)
	r.Get("/health", h.Health)
}

// Submit handles POST /jobs requests.
// The multipart form carries the audio in "file" and an optional integer
// "strength" 0..10. Processing happens asynchronously, the response
// reports the queue position.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			HandleAPIError(w, r, err, "")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			log.Warn("failed to remove multipart temp files", "error", err)
		}
	}()

	strength, err := shared.OptionalInt(r.FormValue("strength"), "strength")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := shared.ValidateRequest(submitForm{Strength: strength}); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "An audio file is required in the \"file\" field", err)
		return
	}
	defer func() { _ = file.Close() }()

	res, err := h.jobs.Submit(r.Context(), service.SubmitRequest{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
		Strength: strength,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit job")
		return
	}

	log.Info("job accepted",
		slog.String("job_id", res.Job.ID.String()),
		slog.Int("queue_position", res.QueuePosition))
	shared.RespondWithJSON(w, r, http.StatusCreated, submitToResponse(res))
}

// Status handles GET /jobs/{id} requests.
// With ?wait=<duration> it blocks until the job is terminal or the wait
// elapses.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	wait, err := shared.QueryDuration(r, "wait")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	res, err := h.jobs.Status(r.Context(), id, wait)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, statusToResponse(res))
}

// Result handles GET /jobs/{id}/result requests by streaming the enhanced
// audio as an attachment named after the original upload.
func (h *JobHandler) Result(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	artifact, err := h.jobs.Result(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to download result")
		return
	}
	defer func() {
		if err := artifact.Content.Close(); err != nil {
			log.Warn("failed to close result file", "error", err, "job_id", id)
		}
	}()

	w.Header().Set("Content-Type", contentTypeFor(artifact.Name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Name}))
	w.Header().Set("Cache-Control", "no-store")

	http.ServeContent(w, r, artifact.Name, artifact.ModTime, artifact.Content)
}

// Delete handles DELETE /jobs/{id} requests. Deleting an unknown job
// succeeds so clients can retry freely.
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	deleted, err := h.jobs.Delete(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to delete job")
		return
	}

	message := "Job and files deleted"
	if !deleted {
		message = "No job found to delete"
	}
	shared.RespondWithJSON(w, r, http.StatusOK, DeleteResponse{
		Success: true,
		TaskID:  id.String(),
		Deleted: deleted,
		Message: message,
	})
}

// Queue handles GET /queue requests.
func (h *JobHandler) Queue(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.QueueStats(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get queue status")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, QueueResponse{
		Active:  stats.Active,
		Pending: stats.Pending,
		Total:   stats.Total,
	})
}

// Health handles GET /health requests. A degraded dependency answers 503
// so load balancers stop routing to the instance.
func (h *JobHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.jobs.Health(r.Context())

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	shared.RespondWithJSON(w, r, status, healthToResponse(report))
}
