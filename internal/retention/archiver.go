// Package retention trims old flight and indicator rows, copying flight rows
// to the ClickHouse archive first when one is configured.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"flight_radar/internal/flight"
)

// DefaultBatchSize bounds the rows moved per round trip.
const DefaultBatchSize = 5000

// Store is the PostgreSQL side of retention.
type Store interface {
	ListArchivableFlights(ctx context.Context, cutoff time.Time, limit int) ([]flight.Observation, error)
	DeleteFlights(ctx context.Context, ids []int64) (int64, error)
	PruneIndicators(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archive receives flight rows before they are deleted.
type Archive interface {
	ArchiveFlights(ctx context.Context, obs []flight.Observation) error
}

// Sizer is implemented by archives that can count the rows they hold.
type Sizer interface {
	CountArchived(ctx context.Context) (uint64, error)
}

// Options configures an Archiver.
type Options struct {
	MaxAge    time.Duration
	BatchSize int
}

// Result counts the rows touched by one run. ArchiveRows is the archive
// size after the run, nil when the archive cannot report it.
type Result struct {
	Archived    int
	Deleted     int64
	Indicators  int64
	Batches     int
	ArchiveRows *uint64
}

// Archiver moves flight rows older than MaxAge out of PostgreSQL. The latest
// row of every flight is never touched.
type Archiver struct {
	store   Store
	archive Archive
	maxAge  time.Duration
	batch   int
	now     func() time.Time
	log     *logrus.Entry
}

// NewArchiver builds an archiver. archive may be nil, in which case old rows
// are deleted without a copy.
func NewArchiver(store Store, archive Archive, opts Options, logger logrus.FieldLogger) *Archiver {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Archiver{
		store:   store,
		archive: archive,
		maxAge:  opts.MaxAge,
		batch:   batch,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.WithField("component", "retention"),
	}
}

// Run archives and deletes in batches until no eligible row is left, then
// prunes old indicator rows. A failed archive write stops the run before
// the matching rows are deleted.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	var res Result
	if a.maxAge <= 0 {
		return res, fmt.Errorf("retention max age must be positive, got %s", a.maxAge)
	}
	cutoff := a.now().Add(-a.maxAge)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := a.store.ListArchivableFlights(ctx, cutoff, a.batch)
		if err != nil {
			return res, fmt.Errorf("list archivable flights: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		if a.archive != nil {
			if err := a.archive.ArchiveFlights(ctx, rows); err != nil {
				return res, fmt.Errorf("archive flights: %w", err)
			}
			res.Archived += len(rows)
		}

		ids := make([]int64, len(rows))
		for i, o := range rows {
			ids[i] = o.ID
		}
		n, err := a.store.DeleteFlights(ctx, ids)
		if err != nil {
			return res, err
		}
		res.Deleted += n
		res.Batches++

		// Rows that became latest between list and delete stay put; stop
		// rather than list them again forever.
		if n == 0 || len(rows) < a.batch {
			break
		}
	}

	pruned, err := a.store.PruneIndicators(ctx, cutoff)
	if err != nil {
		return res, err
	}
	res.Indicators = pruned

	log := a.log.WithFields(logrus.Fields{
		"cutoff":     cutoff.Format(time.RFC3339),
		"archived":   res.Archived,
		"deleted":    res.Deleted,
		"indicators": res.Indicators,
	})
	if sizer, ok := a.archive.(Sizer); ok {
		// The rows are already moved; a failed count only loses the gauge.
		if n, err := sizer.CountArchived(ctx); err != nil {
			a.log.WithError(err).Warn("count archived rows")
		} else {
			res.ArchiveRows = &n
			log = log.WithField("archive_rows", n)
		}
	}
	log.Info("retention run complete")
	return res, nil
}
