package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/store"
)

const jobColumns = `id, status, progress, input_ref, output_ref, filename, size_bytes,
	params, error, worker_id, created_at, updated_at, started_at, finished_at,
	retention_deadline, version`

// JobStore implements store.JobStore on SQLite.
type JobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobStore creates a JobStore over db, which must have been opened with
// Open and migrated.
func NewJobStore(db *sql.DB, logger *slog.Logger) *JobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{db: db, logger: logger.With("component", "sqlite_job_store")}
}

// Ensure JobStore implements store.JobStore interface
var _ store.JobStore = (*JobStore)(nil)

// Create implements store.JobStore.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	rec, err := store.EncodeJob(job)
	if err != nil {
		return err
	}
	if err := s.insert(ctx, s.db, rec); err != nil {
		return err
	}
	s.logger.Debug("job created", "job_id", job.ID)
	return nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	rec, err := s.selectOne(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return store.DecodeForRead(ctx, s.logger, rec), nil
}

// Update implements store.JobStore.
func (s *JobStore) Update(ctx context.Context, id uuid.UUID, fn store.UpdateFunc) (*domain.Job, error) {
	var updated *domain.Job
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.selectOne(ctx, tx, id)
		if err != nil {
			return err
		}
		job, err := store.DecodeJob(rec)
		if err != nil {
			return err
		}
		if err := store.ApplyUpdate(job, fn); err != nil {
			return err
		}
		next, err := store.EncodeJob(job)
		if err != nil {
			return err
		}
		if err := s.write(ctx, tx, next, rec.Version); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete implements store.JobStore.
func (s *JobStore) Delete(ctx context.Context, id uuid.UUID, fn store.DeleteFunc) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := s.selectOne(ctx, tx, id)
		if err != nil {
			return err
		}
		if fn != nil {
			if err := fn(ctx, store.DecodeForRead(ctx, s.logger, rec)); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id.String()); err != nil {
			return store.NewStoreError("delete", id.String(), "failed to delete job", MapError(err))
		}
		s.logger.Debug("job deleted", "job_id", id)
		return nil
	})
}

// QueuePosition implements store.JobStore as a single statement, so the
// count comes from one snapshot.
func (s *JobStore) QueuePosition(ctx context.Context, id uuid.UUID) (int, error) {
	var position int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE status = 'queued'
		  AND created_at < (SELECT created_at FROM jobs WHERE id = $1 AND status = 'queued')`,
		id.String(),
	).Scan(&position)
	if err != nil {
		return 0, store.NewStoreError("queue_position", id.String(), "failed to count queued jobs", MapError(err))
	}
	return position, nil
}

// Counts implements store.JobStore.
func (s *JobStore) Counts(ctx context.Context) (store.JobCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return store.JobCounts{}, store.NewStoreError("counts", "", "failed to count jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var c store.JobCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return store.JobCounts{}, store.NewStoreError("counts", "", "failed to scan count", err)
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusQueued:
			c.Queued = n
		case domain.JobStatusProcessing:
			c.Processing = n
		case domain.JobStatusCompleted:
			c.Completed = n
		case domain.JobStatusFailed:
			c.Failed = n
		default:
			c.Unknown += n
		}
	}
	if err := rows.Err(); err != nil {
		return store.JobCounts{}, store.NewStoreError("counts", "", "failed to read counts", err)
	}
	return c, nil
}

// ListByStatus implements store.JobStore.
func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at ASC`, string(status))
}

// ListExpired implements store.JobStore.
func (s *JobStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	return s.list(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE retention_deadline <= $1 ORDER BY retention_deadline ASC LIMIT $2`,
		toNanos(now), limit)
}

// Ping implements store.JobStore.
func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PutRecord writes rec as-is, replacing any existing row. Used to seed
// fixtures, including corrupt ones.
func (s *JobStore) PutRecord(ctx context.Context, rec store.Record) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, rec.ID); err != nil {
		return err
	}
	return s.insert(ctx, s.db, rec)
}

func (s *JobStore) insert(ctx context.Context, db store.DBTX, rec store.Record) error {
	_, err := db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.Status, rec.Progress, rec.InputRef, rec.OutputRef, rec.Filename, rec.SizeBytes,
		rec.Params, nullString(rec.Error), rec.WorkerID,
		toNanos(rec.CreatedAt), toNanos(rec.UpdatedAt),
		nullNanos(rec.StartedAt), nullNanos(rec.FinishedAt),
		toNanos(rec.RetentionDeadline), rec.Version,
	)
	if err != nil {
		return MapError(err)
	}
	return nil
}

// write replaces the mutable columns, guarded by the version read in the
// same transaction.
func (s *JobStore) write(ctx context.Context, tx *sql.Tx, rec store.Record, prevVersion int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, progress = $2, output_ref = $3, error = $4, worker_id = $5,
			updated_at = $6, started_at = $7, finished_at = $8, retention_deadline = $9, version = $10
		WHERE id = $11 AND version = $12`,
		rec.Status, rec.Progress, rec.OutputRef, nullString(rec.Error), rec.WorkerID,
		toNanos(rec.UpdatedAt), nullNanos(rec.StartedAt), nullNanos(rec.FinishedAt),
		toNanos(rec.RetentionDeadline), rec.Version,
		rec.ID, prevVersion,
	)
	if err != nil {
		return store.NewStoreError("update", rec.ID, "failed to write job", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("update", rec.ID, "failed to read rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: version %d changed underneath", store.ErrConflict, prevVersion)
	}
	return nil
}

func (s *JobStore) selectOne(ctx context.Context, db store.DBTX, id uuid.UUID) (store.Record, error) {
	row := db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id.String())
	rec, err := scanRecord(row)
	if err != nil {
		return store.Record{}, MapError(err)
	}
	return rec, nil
}

func (s *JobStore) list(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("list", "", "failed to query jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, store.NewStoreError("list", "", "failed to scan job", err)
		}
		jobs = append(jobs, store.DecodeForRead(ctx, s.logger, rec))
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("list", "", "failed to read jobs", err)
	}
	return jobs, nil
}

func scanRecord(row store.RowScanner) (store.Record, error) {
	var (
		rec                        store.Record
		jobErr                     sql.NullString
		created, updated, deadline int64
		started, finished          sql.NullInt64
	)
	err := row.Scan(
		&rec.ID, &rec.Status, &rec.Progress, &rec.InputRef, &rec.OutputRef, &rec.Filename, &rec.SizeBytes,
		&rec.Params, &jobErr, &rec.WorkerID,
		&created, &updated, &started, &finished, &deadline, &rec.Version,
	)
	if err != nil {
		return store.Record{}, err
	}
	rec.Error = jobErr.String
	rec.CreatedAt = fromNanos(created)
	rec.UpdatedAt = fromNanos(updated)
	rec.RetentionDeadline = fromNanos(deadline)
	if started.Valid {
		t := fromNanos(started.Int64)
		rec.StartedAt = &t
	}
	if finished.Valid {
		t := fromNanos(finished.Int64)
		rec.FinishedAt = &t
	}
	return rec, nil
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
