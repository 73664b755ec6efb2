package api

import (
	"math"
	"time"

	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/service"
	"github.com/phrazzld/openvoice/internal/task"
)

// submitForm holds the non-file fields of a submission.
type submitForm struct {
	Strength *int `validate:"omitempty,min=0,max=10"`
}

// SubmitResponse is returned by POST /jobs.
type SubmitResponse struct {
	TaskID               string  `json:"task_id"`
	Status               string  `json:"status"`
	Filename             string  `json:"filename"`
	FileSizeMB           float64 `json:"file_size_mb"`
	QueuePosition        int     `json:"queue_position"`
	EstimatedWaitSeconds int     `json:"estimated_wait_seconds"`
	RetentionMinutes     int     `json:"retention_minutes"`
	Message              string  `json:"message"`
}

// JobErrorResponse is the structured failure of a job.
type JobErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StatusResponse is returned by GET /jobs/{id}.
type StatusResponse struct {
	TaskID        string            `json:"task_id"`
	Status        string            `json:"status"`
	Progress      int               `json:"progress"`
	QueuePosition int               `json:"queue_position"`
	Error         *JobErrorResponse `json:"error,omitempty"`
	DownloadReady bool              `json:"download_ready"`
	CreatedAt     time.Time         `json:"created_at"`

	// TimeUntilDeletionSeconds is present once the job is terminal.
	TimeUntilDeletionSeconds *int `json:"time_until_deletion_seconds,omitempty"`
}

// DeleteResponse is returned by DELETE /jobs/{id}.
type DeleteResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}

// QueueResponse is returned by GET /queue.
type QueueResponse struct {
	Active  int `json:"active"`
	Pending int `json:"pending"`
	Total   int `json:"total"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status            string            `json:"status"`
	Store             string            `json:"store"`
	Queue             string            `json:"queue"`
	QueueLength       int               `json:"queue_length"`
	Workers           []task.SlotStatus `json:"workers"`
	MaxFileSizeMB     int64             `json:"max_file_size_mb"`
	AllowedExtensions []string          `json:"allowed_extensions"`
	RetentionMinutes  int               `json:"retention_minutes"`
}

func submitToResponse(res *service.SubmitResult) SubmitResponse {
	return SubmitResponse{
		TaskID:               res.Job.ID.String(),
		Status:               string(res.Job.Status),
		Filename:             res.Job.Filename,
		FileSizeMB:           math.Round(float64(res.Job.SizeBytes)/(1024*1024)*100) / 100,
		QueuePosition:        res.QueuePosition,
		EstimatedWaitSeconds: int(res.EstimatedWait.Seconds()),
		RetentionMinutes:     int(res.RetentionWindow.Minutes()),
		Message:              "File uploaded successfully. Processing will begin shortly.",
	}
}

func statusToResponse(res *service.StatusResult) StatusResponse {
	job := res.Job
	resp := StatusResponse{
		TaskID:        job.ID.String(),
		Status:        string(job.Status),
		Progress:      job.Progress,
		QueuePosition: res.QueuePosition,
		DownloadReady: job.Status == domain.JobStatusCompleted,
		CreatedAt:     job.CreatedAt,
	}
	if job.Error != nil {
		resp.Error = &JobErrorResponse{Kind: string(job.Error.Kind), Message: job.Error.Message}
	}
	if res.TimeUntilDeletion != nil {
		secs := int(res.TimeUntilDeletion.Seconds())
		resp.TimeUntilDeletionSeconds = &secs
	}
	return resp
}

func healthToResponse(report service.HealthReport) HealthResponse {
	status := "healthy"
	if !report.Healthy {
		status = "degraded"
	}
	workers := report.Workers
	if workers == nil {
		workers = []task.SlotStatus{}
	}
	return HealthResponse{
		Status:            status,
		Store:             report.Store,
		Queue:             report.Queue,
		QueueLength:       report.QueueLength,
		Workers:           workers,
		MaxFileSizeMB:     report.MaxUploadBytes / (1024 * 1024),
		AllowedExtensions: report.AllowedExtensions,
		RetentionMinutes:  int(report.RetentionWindow.Minutes()),
	}
}
