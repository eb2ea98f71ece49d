package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight_radar/internal/events"
	"flight_radar/internal/indicator"
	"flight_radar/internal/ingest"
	"flight_radar/internal/logging"
	"flight_radar/internal/retention"
	"flight_radar/internal/scheduler"
	"flight_radar/internal/storage"
)

type fakeUploader struct {
	res ingest.UploadResult
	err error
}

func (f *fakeUploader) Upload(ctx context.Context) (ingest.UploadResult, error) { return f.res, f.err }

type fakeProcessor struct {
	err   error
	calls int
}

func (f *fakeProcessor) Process(ctx context.Context) (*indicator.Cycle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &indicator.Cycle{ID: uuid.New(), Results: make([]indicator.Result, 7)}, nil
}

type fakeArchiver struct{ res retention.Result }

func (f *fakeArchiver) Run(ctx context.Context) (retention.Result, error) { return f.res, nil }

type recordingPublisher struct{ got []events.Event }

func (p *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.got = append(p.got, ev)
	return nil
}
func (p *recordingPublisher) Close() error { return nil }

// flakyScheduler fails AddJob for one id.
type flakyScheduler struct {
	*scheduler.Scheduler
	failID string
}

func (f *flakyScheduler) AddJob(ctx context.Context, j scheduler.Job) error {
	if j.ID == f.failID {
		return errors.New("job store is locked")
	}
	return f.Scheduler.AddJob(ctx, j)
}

var defaultSchedule = Schedule{
	StartDelay:           2 * time.Minute,
	IndicatorOffset:      5 * time.Minute,
	UploadFrequency:      30 * time.Minute,
	ComputationFrequency: 30 * time.Minute,
	ArchiveFrequency:     24 * time.Hour,
}

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	store, err := storage.OpenJobStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return scheduler.New(store, logging.Discard())
}

func TestStartJobsDefaults(t *testing.T) {
	sch := newScheduler(t)
	schemaCalls := 0
	e := New(Deps{
		Scheduler: sch,
		Uploader:  &fakeUploader{},
		Processor: &fakeProcessor{},
		Schema:    func(context.Context) error { schemaCalls++; return nil },
		Schedule:  defaultSchedule,
		Logger:    logging.Discard(),
	})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	started, err := e.StartJobs(context.Background(), StartParams{})
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 1, schemaCalls)

	jobs := e.ListJobs()
	require.Len(t, jobs, 2, "no archive job without an archiver")
	assert.Equal(t, UploadJobID, jobs[0].ID)
	assert.Equal(t, "Flight data upload", jobs[0].Name)
	assert.Equal(t, fixed.Add(2*time.Minute), *jobs[0].NextExecutionTime)
	assert.Equal(t, int64(1800), jobs[0].IntervalSeconds)
	assert.Equal(t, "30 minutes", jobs[0].Every)
	assert.Equal(t, IndicatorJobID, jobs[1].ID)
	assert.Equal(t, fixed.Add(7*time.Minute), *jobs[1].NextExecutionTime)

	started, err = e.StartJobs(context.Background(), StartParams{})
	require.NoError(t, err)
	assert.False(t, started, "second start is a no-op")
	assert.Equal(t, 1, schemaCalls)
}

func TestStartJobsParams(t *testing.T) {
	e := New(Deps{
		Scheduler: newScheduler(t),
		Archiver:  &fakeArchiver{},
		Schedule:  defaultSchedule,
		Logger:    logging.Discard(),
	})
	initial := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	_, err := e.StartJobs(context.Background(), StartParams{
		InitialDate:          initial,
		UploadFrequency:      10 * time.Minute,
		ComputationFrequency: time.Hour,
	})
	require.NoError(t, err)

	jobs := e.ListJobs()
	require.Len(t, jobs, 3)
	byID := map[string]JobInfo{}
	for _, j := range jobs {
		byID[j.ID] = j
	}
	assert.Equal(t, int64(600), byID[UploadJobID].IntervalSeconds)
	assert.Equal(t, initial, *byID[UploadJobID].NextExecutionTime)
	assert.Equal(t, int64(3600), byID[IndicatorJobID].IntervalSeconds)
	assert.Equal(t, initial.Add(5*time.Minute), *byID[IndicatorJobID].NextExecutionTime)
	assert.Equal(t, int64(86400), byID[ArchiveJobID].IntervalSeconds)
}

func TestStartJobsRollsBack(t *testing.T) {
	sch := &flakyScheduler{Scheduler: newScheduler(t), failID: IndicatorJobID}
	e := New(Deps{Scheduler: sch, Schedule: defaultSchedule, Logger: logging.Discard()})

	started, err := e.StartJobs(context.Background(), StartParams{})
	assert.False(t, started)
	assert.ErrorContains(t, err, "job store is locked")
	assert.Empty(t, e.ListJobs())
}

func TestStartJobsSchemaFailure(t *testing.T) {
	e := New(Deps{
		Scheduler: newScheduler(t),
		Schema:    func(context.Context) error { return errors.New("connection refused") },
		Schedule:  defaultSchedule,
		Logger:    logging.Discard(),
	})
	_, err := e.StartJobs(context.Background(), StartParams{})
	assert.ErrorContains(t, err, "ensure schema")
	assert.Empty(t, e.ListJobs())
}

func TestStopPauseResume(t *testing.T) {
	e := New(Deps{Scheduler: newScheduler(t), Schedule: defaultSchedule, Logger: logging.Discard()})
	ctx := context.Background()
	_, err := e.StartJobs(ctx, StartParams{})
	require.NoError(t, err)

	require.NoError(t, e.PauseJob(ctx, UploadJobID))
	jobs := e.ListJobs()
	assert.True(t, jobs[0].Paused)
	assert.Nil(t, jobs[0].NextExecutionTime)

	require.NoError(t, e.ResumeJob(ctx, UploadJobID))
	assert.NotNil(t, e.ListJobs()[0].NextExecutionTime)
	assert.ErrorIs(t, e.PauseJob(ctx, "missing"), scheduler.ErrJobNotFound)

	require.NoError(t, e.StopJobs(ctx))
	assert.Empty(t, e.ListJobs())
}

func TestRunReportsOutcome(t *testing.T) {
	pub := &recordingPublisher{}
	var buf bytes.Buffer
	logger, err := logging.NewWithWriter(&buf, "info", "json")
	require.NoError(t, err)

	proc := &fakeProcessor{}
	e := New(Deps{
		Uploader:  &fakeUploader{res: ingest.UploadResult{Inserted: 120, Skipped: 4}},
		Processor: proc,
		Events:    pub,
		Logger:    logger,
	})
	ctx := context.Background()

	require.NoError(t, e.Run(ctx, UploadJobID))
	require.NoError(t, e.Run(ctx, IndicatorJobID))

	proc.err = &indicator.ProcessingError{Err: indicator.ErrNoFlightData}
	err = e.Run(ctx, IndicatorJobID)
	assert.ErrorIs(t, err, indicator.ErrNoFlightData)

	assert.ErrorIs(t, e.Run(ctx, "reboot"), ErrUnknownJob)
	assert.ErrorIs(t, e.Run(ctx, ArchiveJobID), ErrUnknownJob, "retention disabled")

	require.Len(t, pub.got, 5)
	assert.Equal(t, events.StatusSuccess, pub.got[0].Status)
	assert.Equal(t, 120, pub.got[0].Details["nb_data"])
	assert.Equal(t, events.StatusSuccess, pub.got[1].Status)
	assert.Equal(t, events.StatusError, pub.got[2].Status)
	assert.Contains(t, pub.got[2].Message, "no flight data available")

	assert.Contains(t, buf.String(), `"msg":"job succeeded"`)
	assert.Contains(t, buf.String(), `"msg":"job failed"`)
	assert.Contains(t, buf.String(), `"job_id":"data_upload"`)
}

func TestArchiveRunReportsArchiveSize(t *testing.T) {
	rows := uint64(1003)
	pub := &recordingPublisher{}
	e := New(Deps{
		Archiver: &fakeArchiver{res: retention.Result{Archived: 3, Deleted: 3, ArchiveRows: &rows}},
		Events:   pub,
		Logger:   logging.Discard(),
	})
	require.NoError(t, e.Run(context.Background(), ArchiveJobID))

	e.d.Archiver = &fakeArchiver{res: retention.Result{Archived: 2, Deleted: 2}}
	require.NoError(t, e.Run(context.Background(), ArchiveJobID))

	require.Len(t, pub.got, 2)
	assert.Equal(t, uint64(1003), pub.got[0].Details["archive_rows"])
	assert.Equal(t, 3, pub.got[0].Details["archived"])
	assert.NotContains(t, pub.got[1].Details, "archive_rows")
}

func TestSchedulerRunsRegisteredCycles(t *testing.T) {
	sch := newScheduler(t)
	proc := &fakeProcessor{}
	New(Deps{Scheduler: sch, Processor: proc, Logger: logging.Discard()})

	ctx := context.Background()
	require.NoError(t, sch.Start(ctx))
	defer func() { _ = sch.Stop(ctx) }()
	require.NoError(t, sch.AddJob(ctx, scheduler.Job{ID: IndicatorJobID, Interval: time.Hour, NextRun: time.Now()}))

	require.Eventually(t, func() bool {
		for _, j := range sch.Jobs() {
			if j.NextRun.After(time.Now().Add(30 * time.Minute)) {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sch.Stop(ctx))
	assert.Equal(t, 1, proc.calls)
}
