// Package service contains the application use cases of the job service.
// It orchestrates the job store, the queue, the artifact store and the
// event stream to fulfill what the HTTP gateway exposes.
//
// Key components:
//
// 1. JobService:
//   - Submit stores the upload, creates a queued job and enqueues it
//   - Status decodes defensively and can long-poll for a terminal state
//   - Result opens the output artifact of a completed job
//   - Delete removes a job and its artifacts, idempotently
//   - QueueStats and Health report on the running system
//
// 2. PositionEstimator:
//   - Counts queued jobs created before a given job
//
// 3. Error Handling:
//   - Expected conditions are returned as sentinel errors
//   - Unexpected errors are wrapped in *JobServiceError
//   - The API layer maps both to HTTP status codes
//
// The service depends on store and queue interfaces, never on a specific
// adapter.
package service
