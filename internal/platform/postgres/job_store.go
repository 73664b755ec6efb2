package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/store"
)

const jobColumns = `id, status, progress, input_ref, output_ref, filename, size_bytes,
	params, error, worker_id, created_at, updated_at, started_at, finished_at,
	retention_deadline, version`

// PostgresJobStore implements store.JobStore using PostgreSQL.
type PostgresJobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresJobStore creates a new PostgresJobStore.
// If logger is nil, the default logger is used.
func NewPostgresJobStore(db *sql.DB, logger *slog.Logger) *PostgresJobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{db: db, logger: logger.With("component", "postgres_job_store")}
}

// Ensure PostgresJobStore implements store.JobStore interface
var _ store.JobStore = (*PostgresJobStore)(nil)

// Create implements store.JobStore.
func (s *PostgresJobStore) Create(ctx context.Context, job *domain.Job) error {
	rec, err := store.EncodeJob(job)
	if err != nil {
		return err
	}
	if err := insert(ctx, s.db, rec); err != nil {
		s.logger.Error("failed to create job", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}

// Get implements store.JobStore.
func (s *PostgresJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	rec, err := selectOne(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return store.DecodeForRead(ctx, s.logger, rec), nil
}

// Update implements store.JobStore. The row stays locked from the read
// until commit, so concurrent updates and deletes of the same job queue up.
func (s *PostgresJobStore) Update(ctx context.Context, id uuid.UUID, fn store.UpdateFunc) (*domain.Job, error) {
	var updated *domain.Job
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := selectOne(ctx, tx, id, true)
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

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = $1, progress = $2, output_ref = $3, error = $4, worker_id = $5,
				updated_at = $6, started_at = $7, finished_at = $8, retention_deadline = $9, version = $10
			WHERE id = $11`,
			next.Status, next.Progress, next.OutputRef, nullString(next.Error), next.WorkerID,
			next.UpdatedAt, nullTime(next.StartedAt), nullTime(next.FinishedAt),
			next.RetentionDeadline, next.Version, next.ID,
		)
		if err != nil {
			return store.NewStoreError("update", next.ID, "failed to write job", MapError(err))
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
func (s *PostgresJobStore) Delete(ctx context.Context, id uuid.UUID, fn store.DeleteFunc) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		rec, err := selectOne(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if fn != nil {
			if err := fn(ctx, store.DecodeForRead(ctx, s.logger, rec)); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
			return store.NewStoreError("delete", id.String(), "failed to delete job", MapError(err))
		}
		return nil
	})
}

// QueuePosition implements store.JobStore. A single statement runs against
// one snapshot, so the count cannot mix states from different moments.
func (s *PostgresJobStore) QueuePosition(ctx context.Context, id uuid.UUID) (int, error) {
	var position int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE status = 'queued'
		  AND created_at < (SELECT created_at FROM jobs WHERE id = $1 AND status = 'queued')`,
		id,
	).Scan(&position)
	if err != nil {
		return 0, store.NewStoreError("queue_position", id.String(), "failed to count queued jobs", MapError(err))
	}
	return position, nil
}

// Counts implements store.JobStore.
func (s *PostgresJobStore) Counts(ctx context.Context) (store.JobCounts, error) {
	var c store.JobCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status NOT IN ('queued', 'processing', 'completed', 'failed'))
		FROM jobs`,
	).Scan(&c.Queued, &c.Processing, &c.Completed, &c.Failed, &c.Unknown)
	if err != nil {
		return store.JobCounts{}, store.NewStoreError("counts", "", "failed to count jobs", MapError(err))
	}
	return c, nil
}

// ListByStatus implements store.JobStore.
func (s *PostgresJobStore) ListByStatus(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	return s.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at ASC`, string(status))
}

// ListExpired implements store.JobStore.
func (s *PostgresJobStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	var lim any // NULL means no limit
	if limit > 0 {
		lim = limit
	}
	return s.list(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE retention_deadline <= $1 ORDER BY retention_deadline ASC LIMIT $2`,
		now.UTC(), lim)
}

// Ping implements store.JobStore.
func (s *PostgresJobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PutRecord writes rec as-is, replacing any existing row. Used to seed
// fixtures, including corrupt ones.
func (s *PostgresJobStore) PutRecord(ctx context.Context, rec store.Record) error {
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, rec.ID); err != nil {
			return err
		}
		return insert(ctx, tx, rec)
	})
}

func (s *PostgresJobStore) list(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("list", "", "failed to query jobs", MapError(err))
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

func insert(ctx context.Context, db store.DBTX, rec store.Record) error {
	_, err := db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		rec.ID, rec.Status, rec.Progress, rec.InputRef, rec.OutputRef, rec.Filename, rec.SizeBytes,
		rec.Params, nullString(rec.Error), rec.WorkerID,
		rec.CreatedAt, rec.UpdatedAt, nullTime(rec.StartedAt), nullTime(rec.FinishedAt),
		rec.RetentionDeadline, rec.Version,
	)
	return MapError(err)
}

func selectOne(ctx context.Context, db store.DBTX, id uuid.UUID, forUpdate bool) (store.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanRecord(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return store.Record{}, MapError(err)
	}
	return rec, nil
}

func scanRecord(row store.RowScanner) (store.Record, error) {
	var (
		rec               store.Record
		jobErr            sql.NullString
		started, finished sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.Status, &rec.Progress, &rec.InputRef, &rec.OutputRef, &rec.Filename, &rec.SizeBytes,
		&rec.Params, &jobErr, &rec.WorkerID,
		&rec.CreatedAt, &rec.UpdatedAt, &started, &finished, &rec.RetentionDeadline, &rec.Version,
	)
	if err != nil {
		return store.Record{}, err
	}
	rec.Error = jobErr.String
	if started.Valid {
		t := started.Time.UTC()
		rec.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time.UTC()
		rec.FinishedAt = &t
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
