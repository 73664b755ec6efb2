package enhance

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Passthrough copies the input unchanged while walking through every
// stage. It is selected when no enhancer command is configured and keeps
// the job lifecycle usable in development and tests.
type Passthrough struct{}

// NewPassthroughFactory returns a Factory for Passthrough enhancers.
func NewPassthroughFactory() Factory {
	return func() (Enhancer, error) {
		return Passthrough{}, nil
	}
}

// Enhance implements Enhancer.
func (Passthrough) Enhance(ctx context.Context, req Request, progress ProgressFunc) error {
	report := func(stage Stage) {
		if p, ok := Milestone(stage); ok && progress != nil {
			progress(p)
		}
	}

	report(StageLoad)
	in, err := os.Open(req.InputPath)
	if err != nil {
		return NewTransformError(StageLoad, "failed to open input", err)
	}
	defer func() { _ = in.Close() }()

	report(StageResample)
	if err := ctx.Err(); err != nil {
		return err
	}
	report(StageTransform)

	report(StageSave)
	out, err := os.Create(req.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	return out.Close()
}

// Close implements Enhancer.
func (Passthrough) Close() error {
	return nil
}
