package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight_radar/internal/flight"
	"flight_radar/internal/logging"
)

type fakeStore struct {
	rows      []flight.Observation
	deleted   []int64
	cutoffs   []time.Time
	listErr   error
	pruned    int64
	pruneErr  error
	blockIDs  map[int64]bool
	listCalls int
}

func (s *fakeStore) ListArchivableFlights(ctx context.Context, cutoff time.Time, limit int) ([]flight.Observation, error) {
	s.listCalls++
	s.cutoffs = append(s.cutoffs, cutoff)
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []flight.Observation
	for _, o := range s.rows {
		if o.LatestUpdate.Before(cutoff) {
			out = append(out, o)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteFlights(ctx context.Context, ids []int64) (int64, error) {
	drop := map[int64]bool{}
	for _, id := range ids {
		if !s.blockIDs[id] {
			drop[id] = true
		}
	}
	var kept []flight.Observation
	for _, o := range s.rows {
		if drop[o.ID] {
			s.deleted = append(s.deleted, o.ID)
			continue
		}
		kept = append(kept, o)
	}
	s.rows = kept
	return int64(len(drop)), nil
}

func (s *fakeStore) PruneIndicators(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.pruned, s.pruneErr
}

type fakeArchive struct {
	got []int64
	err error
}

func (a *fakeArchive) ArchiveFlights(ctx context.Context, obs []flight.Observation) error {
	if a.err != nil {
		return a.err
	}
	for _, o := range obs {
		a.got = append(a.got, o.ID)
	}
	return nil
}

type sizedArchive struct {
	fakeArchive
	size     uint64
	countErr error
}

func (a *sizedArchive) CountArchived(ctx context.Context) (uint64, error) {
	if a.countErr != nil {
		return 0, a.countErr
	}
	return a.size + uint64(len(a.got)), nil
}

var now = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func oldRows(n int) []flight.Observation {
	rows := make([]flight.Observation, 0, n+1)
	for i := 1; i <= n; i++ {
		rows = append(rows, flight.Observation{ID: int64(i), FlightID: "2f3a1b", LatestUpdate: now.AddDate(0, 0, -30)})
	}
	// Recent row, inside the retention window.
	rows = append(rows, flight.Observation{ID: int64(n + 1), FlightID: "2f3a1b", LatestUpdate: now.Add(-time.Hour)})
	return rows
}

func newTestArchiver(store Store, archive Archive, batch int) *Archiver {
	a := NewArchiver(store, archive, Options{MaxAge: 7 * 24 * time.Hour, BatchSize: batch}, logging.Discard())
	a.now = func() time.Time { return now }
	return a
}

func TestRunArchivesThenDeletesInBatches(t *testing.T) {
	store := &fakeStore{rows: oldRows(5), pruned: 14}
	archive := &fakeArchive{}

	res, err := newTestArchiver(store, archive, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Archived)
	assert.Equal(t, int64(5), res.Deleted)
	assert.Equal(t, int64(14), res.Indicators)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, archive.got)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, store.deleted)
	require.Len(t, store.rows, 1, "rows inside the window stay")
	assert.Equal(t, now.AddDate(0, 0, -7), store.cutoffs[0])
}

func TestRunReportsArchiveSize(t *testing.T) {
	archive := &sizedArchive{size: 1000}
	res, err := newTestArchiver(&fakeStore{rows: oldRows(3)}, archive, 10).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.ArchiveRows)
	assert.Equal(t, uint64(1003), *res.ArchiveRows)

	archive = &sizedArchive{countErr: errors.New("clickhouse: timeout")}
	res, err = newTestArchiver(&fakeStore{rows: oldRows(3)}, archive, 10).Run(context.Background())
	require.NoError(t, err, "a failed count does not fail the run")
	assert.Nil(t, res.ArchiveRows)
	assert.Equal(t, int64(3), res.Deleted)

	res, err = newTestArchiver(&fakeStore{rows: oldRows(3)}, &fakeArchive{}, 10).Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.ArchiveRows)
}

func TestRunWithoutArchive(t *testing.T) {
	store := &fakeStore{rows: oldRows(3)}

	res, err := newTestArchiver(store, nil, 10).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Archived)
	assert.Equal(t, int64(3), res.Deleted)
}

func TestArchiveFailureKeepsRows(t *testing.T) {
	store := &fakeStore{rows: oldRows(3)}
	archive := &fakeArchive{err: errors.New("clickhouse: connection reset")}

	_, err := newTestArchiver(store, archive, 10).Run(context.Background())
	assert.ErrorContains(t, err, "connection reset")
	assert.Empty(t, store.deleted)
	assert.Len(t, store.rows, 4)
}

func TestRunStopsWhenNothingDeletes(t *testing.T) {
	store := &fakeStore{rows: oldRows(2), blockIDs: map[int64]bool{1: true, 2: true}}

	res, err := newTestArchiver(store, nil, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 1, store.listCalls)
}

func TestRunErrors(t *testing.T) {
	_, err := NewArchiver(&fakeStore{}, nil, Options{}, logging.Discard()).Run(context.Background())
	assert.ErrorContains(t, err, "max age")

	_, err = newTestArchiver(&fakeStore{listErr: errors.New("timeout")}, nil, 10).Run(context.Background())
	assert.ErrorContains(t, err, "list archivable flights")

	_, err = newTestArchiver(&fakeStore{pruneErr: errors.New("lock timeout")}, nil, 10).Run(context.Background())
	assert.ErrorContains(t, err, "lock timeout")
}
