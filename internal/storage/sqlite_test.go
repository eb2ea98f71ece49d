package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStoreRoundTrip(t *testing.T) {
	s, err := OpenJobStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	next := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveJob(ctx, StoredJob{ID: "indicator", Name: "Indicator computation", Interval: 30 * time.Minute, NextRun: next.Add(5 * time.Minute)}))
	require.NoError(t, s.SaveJob(ctx, StoredJob{ID: "data_upload", Name: "Flight data upload", Interval: 30 * time.Minute, NextRun: next}))

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "data_upload", jobs[0].ID)
	assert.Equal(t, 30*time.Minute, jobs[0].Interval)
	assert.True(t, jobs[0].NextRun.Equal(next))
	assert.False(t, jobs[0].Paused)

	// Saving the same id replaces the job.
	require.NoError(t, s.SaveJob(ctx, StoredJob{ID: "data_upload", Name: "Flight data upload", Interval: time.Minute, NextRun: next}))
	jobs, err = s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, time.Minute, jobs[0].Interval)

	later := next.Add(time.Hour)
	require.NoError(t, s.UpdateNextRun(ctx, "indicator", later))
	require.NoError(t, s.SetPaused(ctx, "indicator", true))
	jobs, err = s.ListJobs(ctx)
	require.NoError(t, err)
	assert.True(t, jobs[1].NextRun.Equal(later))
	assert.True(t, jobs[1].Paused)

	require.NoError(t, s.DeleteJob(ctx, "indicator"))
	assert.ErrorIs(t, s.DeleteJob(ctx, "indicator"), ErrJobNotFound)
	assert.ErrorIs(t, s.UpdateNextRun(ctx, "missing", later), ErrJobNotFound)

	require.NoError(t, s.DeleteAllJobs(ctx))
	jobs, err = s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJobStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.sqlite")
	ctx := context.Background()

	s, err := OpenJobStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveJob(ctx, StoredJob{ID: "data_upload", Name: "upload", Interval: time.Hour, NextRun: time.Now()}))
	require.NoError(t, s.Close())

	s, err = OpenJobStore(path)
	require.NoError(t, err)
	defer s.Close()

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "upload", jobs[0].Name)

	// Migrating twice is harmless.
	require.NoError(t, s.Migrate(ctx))
}

func TestJobStoreExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO scheduled_jobs").WillReturnError(errors.New("disk full"))

	s := NewJobStore(db)
	err = s.SaveJob(context.Background(), StoredJob{ID: "indicator", Interval: time.Minute})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save job indicator")
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreScanError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name", "interval_ms", "next_run_ms", "paused", "created_at_ms", "updated_at_ms"}).
		AddRow("data_upload", "upload", "not-a-number", 0, 0, 0, 0)
	mock.ExpectQuery("SELECT id, name, interval_ms").WillReturnRows(rows)

	_, err = NewJobStore(db).ListJobs(context.Background())
	assert.ErrorContains(t, err, "scan job")
	assert.NoError(t, mock.ExpectationsWereMet())
}
