package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/service"
)

// MockJobService is a mock implementation of service.JobService for testing
type MockJobService struct {
	SubmitFn     func(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	StatusFn     func(ctx context.Context, id uuid.UUID, wait time.Duration) (*service.StatusResult, error)
	ResultFn     func(ctx context.Context, id uuid.UUID) (*service.ResultArtifact, error)
	DeleteFn     func(ctx context.Context, id uuid.UUID) (bool, error)
	QueueStatsFn func(ctx context.Context) (service.QueueStats, error)
	HealthFn     func(ctx context.Context) service.HealthReport
}

// Submit implements service.JobService
func (m *MockJobService) Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error) {
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, req)
	}
	return nil, nil
}

// Status implements service.JobService
func (m *MockJobService) Status(ctx context.Context, id uuid.UUID, wait time.Duration) (*service.StatusResult, error) {
	if m.StatusFn != nil {
		return m.StatusFn(ctx, id, wait)
	}
	return nil, nil
}

// Result implements service.JobService
func (m *MockJobService) Result(ctx context.Context, id uuid.UUID) (*service.ResultArtifact, error) {
	if m.ResultFn != nil {
		return m.ResultFn(ctx, id)
	}
	return nil, nil
}

// Delete implements service.JobService
func (m *MockJobService) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	return false, nil
}

// QueueStats implements service.JobService
func (m *MockJobService) QueueStats(ctx context.Context) (service.QueueStats, error) {
	if m.QueueStatsFn != nil {
		return m.QueueStatsFn(ctx)
	}
	return service.QueueStats{}, nil
}

// Health implements service.JobService
func (m *MockJobService) Health(ctx context.Context) service.HealthReport {
	if m.HealthFn != nil {
		return m.HealthFn(ctx)
	}
	return service.HealthReport{Healthy: true}
}
