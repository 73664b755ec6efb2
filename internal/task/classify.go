package task

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/queue"
	"github.com/phrazzld/openvoice/internal/redact"
	"github.com/phrazzld/openvoice/internal/store"
)

// Common errors produced inside the pool before classification.
var (
	// ErrJobTimeout is returned when a job exceeds the processing timeout.
	ErrJobTimeout = errors.New("job exceeded processing timeout")

	// ErrWorkerShutdown is returned when the pool stops mid-job.
	ErrWorkerShutdown = errors.New("worker shut down before the job finished")

	// ErrEnhancerPanic is returned when the enhancer panics.
	ErrEnhancerPanic = errors.New("enhancer panicked")
)

// ClassifyFailure converts any failure into the structured JobError that
// is stored on the job. The message is redacted so paths, hosts and
// credentials never reach the store.
func ClassifyFailure(err error) domain.JobError {
	kind := classifyKind(err)
	return domain.NewJobError(kind, redact.Error(err))
}

func classifyKind(err error) domain.ErrorKind {
	var transformErr *enhance.TransformError

	switch {
	case errors.Is(err, ErrJobTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorKindTimeout
	case errors.Is(err, enhance.ErrResourceExhausted),
		errors.Is(err, syscall.ENOSPC),
		errors.Is(err, syscall.ENOMEM):
		return domain.ErrorKindResourceExhausted
	case errors.As(err, &transformErr), errors.Is(err, ErrEnhancerPanic):
		return domain.ErrorKindTransform
	case errors.Is(err, ErrWorkerShutdown),
		errors.Is(err, context.Canceled),
		errors.Is(err, store.ErrTransactionFailed),
		errors.Is(err, queue.ErrQueueClosed):
		return domain.ErrorKindInfrastructure
	default:
		// I/O on artifacts and anything the enhancer returned unwrapped.
		return domain.ErrorKindTransform
	}
}

// panicError converts a recovered panic value into an error.
func panicError(v any) error {
	return fmt.Errorf("%w: %v", ErrEnhancerPanic, v)
}
