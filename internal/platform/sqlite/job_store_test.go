package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/phrazzld/openvoice/internal/migrations"
	"github.com/phrazzld/openvoice/internal/store"
	"github.com/phrazzld/openvoice/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, migrations.Up(context.Background(), db, migrations.DialectSQLite, logger))
	return NewJobStore(db, logger)
}

func TestJobStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) storetest.Harness {
		s := newTestStore(t)
		return storetest.Harness{
			Store: s,
			PutRecord: func(t *testing.T, rec store.Record) {
				require.NoError(t, s.PutRecord(context.Background(), rec))
			},
		}
	})
}

func TestTimestampsRoundTripNanoseconds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	job := storetest.NewQueuedJob(t, 0)
	job.CreatedAt = job.CreatedAt.Add(123456789)
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
}

func TestMapError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, MapError(nil))
	other := errors.New("disk I/O error")
	assert.Same(t, other, MapError(other))

	ctx := context.Background()
	s := newTestStore(t)
	job := storetest.NewQueuedJob(t, 0)
	require.NoError(t, s.Create(ctx, job))

	rec, err := store.EncodeJob(job)
	require.NoError(t, err)
	err = s.insert(ctx, s.db, rec)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	rec.ID = "another"
	rec.Status = "exploded"
	err = s.insert(ctx, s.db, rec)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}
