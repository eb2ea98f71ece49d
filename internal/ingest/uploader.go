// Package ingest runs the flight upload cycle: pull the live flight list,
// fetch details per flight, validate and append one batch of observations.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"flight_radar/internal/flight"
	"flight_radar/internal/fr24"
)

// DefaultWorkers is used when Options.Workers is not positive.
const DefaultWorkers = 4

// Source is the upstream flight feed.
type Source interface {
	ListFlights(ctx context.Context) ([]fr24.FeedFlight, error)
	FlightDetails(ctx context.Context, id string) (*fr24.Details, error)
}

// Sink appends observations in one all-or-nothing batch.
type Sink interface {
	InsertFlights(ctx context.Context, obs []flight.Observation) (int, error)
}

// Options tunes an Uploader.
type Options struct {
	Workers int
}

// UploadResult summarises one upload cycle. Invalid counts inserted rows
// that carried at least one invalid integrity field.
type UploadResult struct {
	Listed     int
	Inserted   int
	Skipped    int
	Failed     int
	Duplicates int
	Invalid    int
	Duration   time.Duration
}

// Uploader performs upload cycles.
type Uploader struct {
	src     Source
	sink    Sink
	workers int
	log     *logrus.Entry
}

// NewUploader returns an uploader reading from src and writing to sink.
func NewUploader(src Source, sink Sink, opts Options, logger logrus.FieldLogger) *Uploader {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Uploader{
		src:     src,
		sink:    sink,
		workers: workers,
		log:     logger.WithField("component", "ingest"),
	}
}

type fetched struct {
	obs     flight.Observation
	ok      bool
	skipped bool
	failed  bool
}

// Upload runs one cycle. Flights the upstream refuses to serve are skipped;
// other per-flight failures are counted and logged but do not abort the
// cycle. The insert itself is all-or-nothing; an empty batch fails with a
// *storage.InsertError wrapping storage.ErrNoData.
func (u *Uploader) Upload(ctx context.Context) (UploadResult, error) {
	start := time.Now()
	var res UploadResult

	feed, err := u.src.ListFlights(ctx)
	if err != nil {
		return res, fmt.Errorf("list flights: %w", err)
	}
	res.Listed = len(feed)

	results := u.fetchAll(ctx, feed)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	var batch []flight.Observation
	for _, r := range results {
		switch {
		case r.skipped:
			res.Skipped++
		case r.failed:
			res.Failed++
		case r.ok:
			if len(r.obs.DataStatus.Invalid()) > 0 {
				res.Invalid++
			}
			batch = append(batch, r.obs)
		}
	}

	deduped := dedupe(batch)
	res.Duplicates = len(batch) - len(deduped)

	n, err := u.sink.InsertFlights(ctx, deduped)
	res.Inserted = n
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}

	u.log.WithFields(logrus.Fields{
		"listed":     res.Listed,
		"inserted":   res.Inserted,
		"skipped":    res.Skipped,
		"failed":     res.Failed,
		"duplicates": res.Duplicates,
		"duration":   res.Duration.String(),
	}).Info("flight upload complete")
	return res, nil
}

// fetchAll resolves details with a bounded pool. Results keep feed order.
func (u *Uploader) fetchAll(ctx context.Context, feed []fr24.FeedFlight) []fetched {
	results := make([]fetched, len(feed))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(u.workers, len(feed)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = u.fetchOne(ctx, feed[i].ID)
			}
		}()
	}

dispatch:
	for i := range feed {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

func (u *Uploader) fetchOne(ctx context.Context, id string) fetched {
	d, err := u.src.FlightDetails(ctx, id)
	switch {
	case errors.Is(err, fr24.ErrUnavailable):
		u.log.WithField("flight_id", id).WithError(err).Debug("flight details unavailable, skipped")
		return fetched{skipped: true}
	case err != nil:
		u.log.WithField("flight_id", id).WithError(err).Warn("flight details failed")
		return fetched{failed: true}
	}

	obs, ok := toObservation(d)
	if !ok {
		u.log.WithField("flight_id", id).Debug("flight details without identification, skipped")
		return fetched{skipped: true}
	}
	if bad := obs.DataStatus.Invalid(); len(bad) > 0 {
		u.log.WithFields(logrus.Fields{"flight_id": id, "fields": bad}).Debug("invalid values dropped")
	}
	return fetched{obs: obs, ok: true}
}

// dedupe keeps the last observation of each flight id in the batch. Rows
// without a flight id are kept as they are.
func dedupe(batch []flight.Observation) []flight.Observation {
	var anonymous []flight.Observation
	for _, o := range batch {
		if o.FlightID == "" {
			anonymous = append(anonymous, o)
		}
	}
	return append(flight.Latest(batch), anonymous...)
}
