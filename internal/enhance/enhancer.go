package enhance

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/openvoice/internal/domain"
)

// Stage is one coarse step of an enhancement run.
type Stage string

// Enhancement stages in execution order.
const (
	StageLoad      Stage = "load"
	StageResample  Stage = "resample"
	StageTransform Stage = "transform"
	StageSave      Stage = "save"
)

// milestones maps each stage onto the job progress reported when it starts.
var milestones = map[Stage]int{
	StageLoad:      10,
	StageResample:  40,
	StageTransform: 75,
	StageSave:      90,
}

// Milestone returns the progress value for stage, or false if unknown.
func Milestone(stage Stage) (int, bool) {
	p, ok := milestones[stage]
	return p, ok
}

// ProgressFunc receives progress reports in 0..100. Implementations must
// tolerate repeated or out-of-order values.
type ProgressFunc func(percent int)

// Request describes one enhancement run.
type Request struct {
	JobID      string
	InputPath  string
	OutputPath string
	Params     domain.EnhanceParams
}

// Enhancer runs the enhancement transform. An Enhancer is used by a single
// worker slot at a time and is closed when the slot recycles.
type Enhancer interface {
	// Enhance writes the enhanced audio to req.OutputPath. Failures of the
	// transform itself are returned as *TransformError.
	Enhance(ctx context.Context, req Request, progress ProgressFunc) error

	// Close releases model state held by the enhancer.
	Close() error
}

// Factory builds a fresh Enhancer, e.g. when a worker slot recycles.
type Factory func() (Enhancer, error)

// ErrResourceExhausted marks failures caused by running out of memory or
// disk rather than by the audio itself.
var ErrResourceExhausted = errors.New("enhancer resources exhausted")

// TransformError is a failure reported by the enhancement transform.
type TransformError struct {
	Stage   Stage
	Message string
	Err     error
}

// Error implements the error interface.
func (e *TransformError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stage == "" {
		return fmt.Sprintf("enhancement failed: %s", msg)
	}
	return fmt.Sprintf("enhancement failed during %s: %s", e.Stage, msg)
}

// Unwrap returns the underlying error.
func (e *TransformError) Unwrap() error {
	return e.Err
}

// NewTransformError creates a TransformError for stage.
func NewTransformError(stage Stage, message string, err error) *TransformError {
	return &TransformError{Stage: stage, Message: message, Err: err}
}
