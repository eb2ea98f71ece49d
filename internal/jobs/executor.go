// Package jobs binds the upload, indicator and retention cycles to the
// scheduler and implements the start/stop/list operations exposed over HTTP.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hako/durafmt"
	"github.com/sirupsen/logrus"

	"flight_radar/internal/events"
	"flight_radar/internal/indicator"
	"flight_radar/internal/ingest"
	"flight_radar/internal/metrics"
	"flight_radar/internal/retention"
	"flight_radar/internal/scheduler"
)

// Job ids.
const (
	UploadJobID    = "data_upload"
	IndicatorJobID = "indicator"
	ArchiveJobID   = "archive"
)

var jobNames = map[string]string{
	UploadJobID:    "Flight data upload",
	IndicatorJobID: "Indicators computation",
	ArchiveJobID:   "Flight data retention",
}

// ErrUnknownJob is returned by Run for an id with no cycle behind it.
var ErrUnknownJob = errors.New("unknown job type")

// Uploader runs one flight upload cycle.
type Uploader interface {
	Upload(ctx context.Context) (ingest.UploadResult, error)
}

// Processor runs one indicator computation cycle.
type Processor interface {
	Process(ctx context.Context) (*indicator.Cycle, error)
}

// Archiver runs one retention pass.
type Archiver interface {
	Run(ctx context.Context) (retention.Result, error)
}

// Scheduler is the part of *scheduler.Scheduler the executor drives.
type Scheduler interface {
	Register(id string, fn scheduler.Func)
	AddJob(ctx context.Context, j scheduler.Job) error
	RemoveAll(ctx context.Context) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Jobs() []scheduler.Job
}

// Schedule holds the default timings applied by StartJobs.
type Schedule struct {
	StartDelay           time.Duration
	IndicatorOffset      time.Duration
	UploadFrequency      time.Duration
	ComputationFrequency time.Duration
	// ArchiveFrequency is only used when an Archiver is configured.
	ArchiveFrequency time.Duration
}

// Deps wires the executor. Archiver, Schema, Metrics and Events are
// optional.
type Deps struct {
	Scheduler Scheduler
	Uploader  Uploader
	Processor Processor
	Archiver  Archiver
	Schema    func(ctx context.Context) error
	Metrics   *metrics.Recorder
	Events    events.Publisher
	Schedule  Schedule
	Logger    logrus.FieldLogger
}

// Executor runs job cycles and reports their outcome.
type Executor struct {
	d   Deps
	log *logrus.Entry
	now func() time.Time
}

// New builds an executor and registers its cycles on the scheduler.
func New(d Deps) *Executor {
	if d.Metrics == nil {
		d.Metrics = metrics.Noop()
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	e := &Executor{
		d:   d,
		log: d.Logger.WithField("component", "jobs"),
		now: func() time.Time { return time.Now().UTC() },
	}
	if d.Scheduler != nil {
		for _, id := range []string{UploadJobID, IndicatorJobID, ArchiveJobID} {
			id := id // per-iteration copy; go directive is below 1.22
			d.Scheduler.Register(id, func(ctx context.Context) error { return e.Run(ctx, id) })
		}
	}
	return e
}

// Run executes one cycle of job id, logs a result line and records metrics
// and an event. The cycle's error is returned unchanged.
func (e *Executor) Run(ctx context.Context, id string) error {
	started := e.now()
	details, err := e.dispatch(ctx, id)
	finished := e.now()
	elapsed := finished.Sub(started)

	e.d.Metrics.JobRun(id, elapsed, err)

	ev := events.Event{
		Job:        id,
		Status:     events.StatusSuccess,
		StartedAt:  started,
		FinishedAt: finished,
		Details:    details,
	}
	log := e.log.WithFields(logrus.Fields{"job_id": id, "duration": elapsed.String()}).WithFields(details)
	if err != nil {
		ev.Status = events.StatusError
		ev.Message = fmt.Sprintf("Job execution interrupted: %v", err)
		log.WithError(err).Error("job failed")
	} else {
		log.Info("job succeeded")
	}

	if perr := e.d.Events.Publish(ctx, ev); perr != nil {
		e.log.WithError(perr).Warn("publish job event")
	}
	return err
}

func (e *Executor) dispatch(ctx context.Context, id string) (map[string]any, error) {
	switch id {
	case UploadJobID:
		res, err := e.d.Uploader.Upload(ctx)
		e.d.Metrics.Count("flights.inserted", res.Inserted)
		e.d.Metrics.Count("flights.skipped", res.Skipped)
		return map[string]any{
			"nb_data":    res.Inserted,
			"skipped":    res.Skipped,
			"failed":     res.Failed,
			"duplicates": res.Duplicates,
		}, err

	case IndicatorJobID:
		cycle, err := e.d.Processor.Process(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"cycle_id":   cycle.ID.String(),
			"indicators": len(cycle.Results),
		}, nil

	case ArchiveJobID:
		if e.d.Archiver == nil {
			return nil, fmt.Errorf("%w: retention is disabled", ErrUnknownJob)
		}
		res, err := e.d.Archiver.Run(ctx)
		details := map[string]any{
			"archived":   res.Archived,
			"deleted":    res.Deleted,
			"indicators": res.Indicators,
		}
		if res.ArchiveRows != nil {
			e.d.Metrics.Gauge("archive.rows", *res.ArchiveRows)
			details["archive_rows"] = *res.ArchiveRows
		}
		return details, err
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
}

// StartParams overrides the default schedule of StartJobs. Zero values
// fall back to the configured Schedule.
type StartParams struct {
	InitialDate          time.Time
	UploadFrequency      time.Duration
	ComputationFrequency time.Duration
}

// StartJobs schedules the upload and indicator jobs, plus the archive job
// when retention is configured. It returns false without touching anything
// if jobs already exist. The indicator job starts IndicatorOffset after the
// upload job. If any job cannot be added, every job is removed again.
func (e *Executor) StartJobs(ctx context.Context, p StartParams) (bool, error) {
	if len(e.d.Scheduler.Jobs()) > 0 {
		return false, nil
	}
	if e.d.Schema != nil {
		if err := e.d.Schema(ctx); err != nil {
			return false, fmt.Errorf("ensure schema: %w", err)
		}
	}

	sch := e.d.Schedule
	initial := p.InitialDate
	if initial.IsZero() {
		initial = e.now().Add(sch.StartDelay).Truncate(time.Second)
	}
	uploadEvery := p.UploadFrequency
	if uploadEvery <= 0 {
		uploadEvery = sch.UploadFrequency
	}
	computeEvery := p.ComputationFrequency
	if computeEvery <= 0 {
		computeEvery = sch.ComputationFrequency
	}

	planned := []scheduler.Job{
		{ID: UploadJobID, Name: jobNames[UploadJobID], Interval: uploadEvery, NextRun: initial},
		{ID: IndicatorJobID, Name: jobNames[IndicatorJobID], Interval: computeEvery, NextRun: initial.Add(sch.IndicatorOffset)},
	}
	if e.d.Archiver != nil && sch.ArchiveFrequency > 0 {
		planned = append(planned, scheduler.Job{
			ID: ArchiveJobID, Name: jobNames[ArchiveJobID], Interval: sch.ArchiveFrequency, NextRun: initial.Add(sch.ArchiveFrequency),
		})
	}

	for i, j := range planned {
		if err := e.d.Scheduler.AddJob(ctx, j); err != nil {
			if i > 0 {
				if rerr := e.d.Scheduler.RemoveAll(ctx); rerr != nil {
					e.log.WithError(rerr).Error("roll back scheduled jobs")
				}
			}
			return false, fmt.Errorf("schedule %s: %w", j.ID, err)
		}
	}

	e.log.WithFields(logrus.Fields{
		"initial_date":          initial.Format(time.RFC3339),
		"upload_frequency":      uploadEvery.String(),
		"computation_frequency": computeEvery.String(),
	}).Info("jobs started")
	return true, nil
}

// StopJobs removes every scheduled job.
func (e *Executor) StopJobs(ctx context.Context) error {
	if err := e.d.Scheduler.RemoveAll(ctx); err != nil {
		return err
	}
	e.log.Info("jobs stopped")
	return nil
}

// PauseJob pauses one scheduled job.
func (e *Executor) PauseJob(ctx context.Context, id string) error {
	return e.d.Scheduler.Pause(ctx, id)
}

// ResumeJob resumes one paused job.
func (e *Executor) ResumeJob(ctx context.Context, id string) error {
	return e.d.Scheduler.Resume(ctx, id)
}

// JobInfo is the public view of a scheduled job.
type JobInfo struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	NextExecutionTime *time.Time `json:"next_execution_time"`
	IntervalSeconds   int64      `json:"interval_seconds"`
	Every             string     `json:"every"`
	Paused            bool       `json:"paused"`
	Running           bool       `json:"running"`
}

// ListJobs describes every scheduled job. Paused jobs have no next
// execution time.
func (e *Executor) ListJobs() []JobInfo {
	jobs := e.d.Scheduler.Jobs()
	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		info := JobInfo{
			ID:              j.ID,
			Name:            j.Name,
			IntervalSeconds: int64(j.Interval / time.Second),
			Every:           durafmt.Parse(j.Interval.Truncate(time.Second)).String(),
			Paused:          j.Paused,
			Running:         j.Running,
		}
		if !j.Paused {
			next := j.NextRun.UTC()
			info.NextExecutionTime = &next
		}
		out = append(out, info)
	}
	return out
}
