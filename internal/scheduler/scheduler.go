// Package scheduler runs persisted interval jobs. Each job has its own
// goroutine and never overlaps itself; ticks missed while a run is still
// going are skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"flight_radar/internal/storage"
)

var (
	// ErrAlreadyRunning is returned by Start on a started scheduler.
	ErrAlreadyRunning = errors.New("scheduler is already running")
	// ErrNotRunning is returned by Stop on a stopped scheduler.
	ErrNotRunning = errors.New("scheduler is not running")
	// ErrUnknownJob means no function was registered for the job id.
	ErrUnknownJob = errors.New("no function registered for job")
	// ErrInvalidInterval rejects jobs with a zero or negative interval.
	ErrInvalidInterval = errors.New("job interval must be positive")

	// ErrJobNotFound is shared with the job store so callers can match
	// either layer with errors.Is.
	ErrJobNotFound = storage.ErrJobNotFound
)

// Func is the work a job performs on each tick.
type Func func(ctx context.Context) error

// Store persists job definitions. storage.JobStore implements it.
type Store interface {
	SaveJob(ctx context.Context, j storage.StoredJob) error
	UpdateNextRun(ctx context.Context, id string, next time.Time) error
	SetPaused(ctx context.Context, id string, paused bool) error
	DeleteJob(ctx context.Context, id string) error
	DeleteAllJobs(ctx context.Context) error
	ListJobs(ctx context.Context) ([]storage.StoredJob, error)
}

// Job describes one scheduled interval job. Running is reported by Jobs
// and ignored by AddJob.
type Job struct {
	ID       string
	Name     string
	Interval time.Duration
	NextRun  time.Time
	Paused   bool
	Running  bool
}

type entry struct {
	job     Job
	gen     uint64
	running bool
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// Scheduler owns the job loops. The zero value is not usable; call New.
type Scheduler struct {
	store Store
	log   *logrus.Entry
	now   func() time.Time

	mu      sync.Mutex
	funcs   map[string]Func
	jobs    map[string]*entry
	running bool
	runCtx  context.Context

	// retired holds the done channel of the last loop ended for an id. A
	// new loop for that id does not fire before it is closed.
	retired map[string]chan struct{}
}

// New returns a stopped scheduler persisting through store.
func New(store Store, logger logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		store: store,
		log:   logger.WithField("component", "scheduler"),
		now:   time.Now,
		funcs:   map[string]Func{},
		jobs:    map[string]*entry{},
		retired: map[string]chan struct{}{},
	}
}

// Register binds the function executed for job id.
func (s *Scheduler) Register(id string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[id] = fn
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start loads persisted jobs and starts their loops. Stored jobs with no
// registered function are logged and left alone. Runs use a context
// detached from ctx's cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	stored, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	for _, sj := range stored {
		if _, ok := s.jobs[sj.ID]; ok {
			continue
		}
		if _, ok := s.funcs[sj.ID]; !ok {
			s.log.WithField("job_id", sj.ID).Warn("stored job has no registered function, ignored")
			continue
		}
		s.jobs[sj.ID] = &entry{job: Job{
			ID:       sj.ID,
			Name:     sj.Name,
			Interval: sj.Interval,
			NextRun:  sj.NextRun,
			Paused:   sj.Paused,
		}}
	}

	s.running = true
	s.runCtx = context.WithoutCancel(ctx)
	for _, e := range s.jobs {
		s.spawn(e)
	}
	s.log.WithField("jobs", len(s.jobs)).Info("scheduler started")
	return nil
}

// Stop ends every job loop and waits for in-flight runs. Runs are not
// interrupted; if ctx expires first its error is returned and the runs
// finish in the background. Jobs stay persisted.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	var done []chan struct{}
	for _, e := range s.jobs {
		s.retire(e)
	}
	for _, d := range s.retired {
		done = append(done, d)
	}
	s.mu.Unlock()

	for _, d := range done {
		select {
		case <-d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.log.Info("scheduler stopped")
	return nil
}

// AddJob schedules j, replacing any job with the same id. A zero NextRun
// means one interval from now.
func (s *Scheduler) AddJob(ctx context.Context, j Job) error {
	if j.Interval <= 0 {
		return ErrInvalidInterval
	}
	if j.NextRun.IsZero() {
		j.NextRun = s.now().Add(j.Interval)
	}

	s.mu.Lock()
	_, ok := s.funcs[j.ID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, j.ID)
	}

	if err := s.store.SaveJob(ctx, storage.StoredJob{
		ID:       j.ID,
		Name:     j.Name,
		Interval: j.Interval,
		NextRun:  j.NextRun,
		Paused:   j.Paused,
	}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[j.ID]; ok {
		e.job = j
		e.gen++
		notify(e)
		return nil
	}
	e := &entry{job: j}
	s.jobs[j.ID] = e
	if s.running {
		s.spawn(e)
	}
	return nil
}

// RemoveJob unschedules one job. A run in progress completes.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop(id)
	return nil
}

// RemoveAll unschedules every job.
func (s *Scheduler) RemoveAll(ctx context.Context) error {
	if err := s.store.DeleteAllJobs(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.jobs {
		s.drop(id)
	}
	return nil
}

// Pause keeps a job scheduled but stops it from firing.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	return s.setPaused(ctx, id, true)
}

// Resume lets a paused job fire again at its next interval boundary.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	return s.setPaused(ctx, id, false)
}

func (s *Scheduler) setPaused(ctx context.Context, id string, paused bool) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err := s.store.SetPaused(ctx, id, paused); err != nil {
		return err
	}

	s.mu.Lock()
	e.job.Paused = paused
	if !paused {
		e.job.NextRun = nextRun(e.job.NextRun, e.job.Interval, s.now())
	}
	e.gen++
	next := e.job.NextRun
	notify(e)
	s.mu.Unlock()

	if !paused {
		s.persistNextRun(id, next)
	}
	return nil
}

// Jobs lists scheduled jobs ordered by id.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		j := e.job
		j.Running = e.running
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// spawn starts the loop of e. The loop waits for any retired loop of the
// same id before its first run. Callers hold s.mu.
func (s *Scheduler) spawn(e *entry) {
	prev := s.retired[e.job.ID]
	delete(s.retired, e.job.ID)
	e.wake = make(chan struct{}, 1)
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go s.loop(e, prev, e.wake, e.stop, e.done)
}

// retire ends the loop of e, if any, and remembers its done channel.
// Callers hold s.mu.
func (s *Scheduler) retire(e *entry) {
	if e.stop == nil {
		return
	}
	close(e.stop)
	s.retired[e.job.ID] = e.done
	e.stop, e.wake = nil, nil
}

// drop forgets job id and ends its loop. A run in progress completes but
// its loop no longer touches the store. Callers hold s.mu.
func (s *Scheduler) drop(id string) {
	e, ok := s.jobs[id]
	if !ok {
		return
	}
	s.retire(e)
	delete(s.jobs, id)
}

func notify(e *entry) {
	if e.wake == nil {
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(e *entry, prev <-chan struct{}, wake, stop, done chan struct{}) {
	defer close(done)
	if prev != nil {
		// Not cancelled by stop: done must not close before prev.
		<-prev
		select {
		case <-stop:
			return
		default:
		}
	}
	for {
		s.mu.Lock()
		job, gen := e.job, e.gen
		s.mu.Unlock()

		if job.Paused {
			select {
			case <-wake:
				continue
			case <-stop:
				return
			}
		}

		timer := time.NewTimer(max(0, job.NextRun.Sub(s.now())))
		select {
		case <-timer.C:
		case <-wake:
			timer.Stop()
			continue
		case <-stop:
			timer.Stop()
			return
		}

		s.run(e, job)

		s.mu.Lock()
		changed := e.gen != gen || s.jobs[job.ID] != e
		if !changed {
			e.job.NextRun = nextRun(job.NextRun, job.Interval, s.now())
		}
		next := e.job.NextRun
		s.mu.Unlock()

		if !changed {
			s.persistNextRun(job.ID, next)
		}
	}
}

func (s *Scheduler) run(e *entry, job Job) {
	s.mu.Lock()
	fn := s.funcs[job.ID]
	ctx := s.runCtx
	e.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		e.running = false
		s.mu.Unlock()
	}()

	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "job_name": job.Name})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("job panicked")
		}
	}()

	start := s.now()
	if err := fn(ctx); err != nil {
		log.WithError(err).Warn("job run failed")
		return
	}
	log.WithField("duration", s.now().Sub(start).String()).Debug("job run finished")
}

func (s *Scheduler) persistNextRun(id string, next time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.UpdateNextRun(ctx, id, next)
	if err != nil && !errors.Is(err, storage.ErrJobNotFound) {
		s.log.WithField("job_id", id).WithError(err).Warn("persist next run")
	}
}

// nextRun returns the first boundary prev + k*interval strictly after now.
// A prev already in the future is returned unchanged.
func nextRun(prev time.Time, interval time.Duration, now time.Time) time.Time {
	if prev.After(now) {
		return prev
	}
	steps := now.Sub(prev)/interval + 1
	return prev.Add(steps * interval)
}
