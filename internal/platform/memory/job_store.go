package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/store"
)

// JobStore implements store.JobStore in memory.
type JobStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]store.Record
	locks   *KeyedMutex
	logger  *slog.Logger
}

// NewJobStore creates an empty in-memory job store.
// If logger is nil, the default logger is used.
func NewJobStore(logger *slog.Logger) *JobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{
		records: make(map[uuid.UUID]store.Record),
		locks:   NewKeyedMutex(),
		logger:  logger.With("component", "memory_job_store"),
	}
}

// Ensure JobStore implements store.JobStore interface
var _ store.JobStore = (*JobStore)(nil)

// Create implements store.JobStore.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := store.EncodeJob(job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[job.ID]; exists {
		return fmt.Errorf("%w: %s", store.ErrDuplicate, job.ID)
	}
	s.records[job.ID] = rec

	s.logger.Debug("job created", "job_id", job.ID)
	return nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := s.load(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.DecodeForRead(ctx, s.logger, rec), nil
}

// Update implements store.JobStore.
func (s *JobStore) Update(ctx context.Context, id uuid.UUID, fn store.UpdateFunc) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, ok := s.load(id)
	if !ok {
		return nil, store.ErrNotFound
	}

	job, err := store.DecodeJob(rec)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyUpdate(job, fn); err != nil {
		return nil, err
	}

	updated, err := store.EncodeJob(job)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[id] = updated
	s.mu.Unlock()

	return job.Clone(), nil
}

// Delete implements store.JobStore.
func (s *JobStore) Delete(ctx context.Context, id uuid.UUID, fn store.DeleteFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, ok := s.load(id)
	if !ok {
		return store.ErrNotFound
	}

	if fn != nil {
		if err := fn(ctx, store.DecodeForRead(ctx, s.logger, rec)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()

	s.logger.Debug("job deleted", "job_id", id)
	return nil
}

// QueuePosition implements store.JobStore. The count is taken under a
// single read lock, so it reflects one consistent snapshot.
func (s *JobStore) QueuePosition(ctx context.Context, id uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.records[id]
	if !ok || target.Status != string(domain.JobStatusQueued) {
		return 0, nil
	}

	position := 0
	for _, rec := range s.records {
		if rec.Status == string(domain.JobStatusQueued) && rec.CreatedAt.Before(target.CreatedAt) {
			position++
		}
	}
	return position, nil
}

// Counts implements store.JobStore.
func (s *JobStore) Counts(ctx context.Context) (store.JobCounts, error) {
	if err := ctx.Err(); err != nil {
		return store.JobCounts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c store.JobCounts
	for _, rec := range s.records {
		switch domain.JobStatus(rec.Status) {
		case domain.JobStatusQueued:
			c.Queued++
		case domain.JobStatusProcessing:
			c.Processing++
		case domain.JobStatusCompleted:
			c.Completed++
		case domain.JobStatusFailed:
			c.Failed++
		default:
			c.Unknown++
		}
	}
	return c, nil
}

// ListByStatus implements store.JobStore.
func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs := s.snapshot(func(r store.Record) bool { return r.Status == string(status) })
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })

	jobs := make([]*domain.Job, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, store.DecodeForRead(ctx, s.logger, rec))
	}
	return jobs, nil
}

// ListExpired implements store.JobStore.
func (s *JobStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs := s.snapshot(func(r store.Record) bool { return !r.RetentionDeadline.After(now) })
	sort.Slice(recs, func(i, j int) bool { return recs[i].RetentionDeadline.Before(recs[j].RetentionDeadline) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	jobs := make([]*domain.Job, 0, len(recs))
	for _, rec := range recs {
		jobs = append(jobs, store.DecodeForRead(ctx, s.logger, rec))
	}
	return jobs, nil
}

// Ping implements store.JobStore.
func (s *JobStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// PutRecord stores a raw record without validation, replacing any record
// with the same id. Used to seed fixtures, including corrupt ones.
func (s *JobStore) PutRecord(id uuid.UUID, rec store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = rec
}

func (s *JobStore) load(id uuid.UUID) (store.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *JobStore) snapshot(keep func(store.Record) bool) []store.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Record, 0)
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}
