// Command flightradar collects live flights from FlightRadar24, computes
// indicators over them and serves the results over HTTP.
//
// Usage:
//
//	flightradar <command> [-config FILE]
//
// Commands:
//
//	serve    run the scheduler and the HTTP API (default)
//	migrate  create the database schemas and exit
//	upload   run one flight upload cycle and exit
//	compute  run one indicator computation cycle and exit
//	archive  run one retention pass and exit
//
// Settings come from defaults, the YAML file given by -config or
// FLIGHTRADAR_CONFIG, and environment overrides (POSTGRES_HOST, API_KEYS, ...).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"flight_radar/internal/api"
	"flight_radar/internal/config"
	"flight_radar/internal/events"
	"flight_radar/internal/fr24"
	"flight_radar/internal/indicator"
	"flight_radar/internal/ingest"
	"flight_radar/internal/jobs"
	"flight_radar/internal/logging"
	"flight_radar/internal/metrics"
	"flight_radar/internal/retention"
	"flight_radar/internal/scheduler"
	"flight_radar/internal/storage"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "flightradar - commands:")
	fmt.Fprintln(w, "  serve    - run the scheduler and HTTP API (default)")
	fmt.Fprintln(w, "  migrate  - create database schemas")
	fmt.Fprintln(w, "  upload   - run one upload cycle")
	fmt.Fprintln(w, "  compute  - run one indicator cycle")
	fmt.Fprintln(w, "  archive  - run one retention pass")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  flightradar <command> [-config config.yaml]")
	fmt.Fprintln(w, "")
}

func main() {
	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = strings.ToLower(args[0])
		args = args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "migrate":
		err = runOnce("migrate", args, func(ctx context.Context, a *app) error {
			return a.db.CreateSchemas(ctx)
		})
	case "upload":
		err = runOnce("upload", args, func(ctx context.Context, a *app) error {
			return a.exec.Run(ctx, jobs.UploadJobID)
		})
	case "compute":
		err = runOnce("compute", args, func(ctx context.Context, a *app) error {
			return a.exec.Run(ctx, jobs.IndicatorJobID)
		})
	case "archive":
		err = runOnce("archive", args, func(ctx context.Context, a *app) error {
			return a.exec.Run(ctx, jobs.ArchiveJobID)
		})
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds every long-lived component.
type app struct {
	cfg       config.Config
	log       *logrus.Logger
	db        *storage.DB
	jobStore  *storage.JobStore
	scheduler *scheduler.Scheduler
	reader    *indicator.Reader
	exec      *jobs.Executor
	metrics   *metrics.Recorder
	events    events.Publisher
}

func loadConfig(name string, args []string) (config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", "", "YAML config file (env: "+config.PathEnv+")")
	_ = fs.Parse(args)
	return config.Load(*path)
}

func setup(ctx context.Context, cfg config.Config) (*app, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, cfg.Postgres, cfg.ClickHouse)
	if err != nil {
		return nil, err
	}

	jobStore, err := storage.OpenJobStore(cfg.JobStore.Path)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       logger,
		db:        db,
		jobStore:  jobStore,
		scheduler: scheduler.New(jobStore, logger),
		reader:    indicator.NewReader(db.PG, cfg.Indicators.CacheTTL),
		metrics:   metrics.New(cfg.Statsd.Address, cfg.Statsd.Prefix, logger),
		events:    events.Noop{},
	}

	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			// Events are best effort; the jobs run without them.
			logger.WithError(err).WithField("url", cfg.NATS.URL).Warn("NATS unavailable, cycle events disabled")
		} else {
			a.events = pub
		}
	}

	client := fr24.New(fr24.Config{
		FeedURL:    cfg.Upstream.FeedURL,
		DetailsURL: cfg.Upstream.DetailsURL,
		UserAgent:  cfg.Upstream.UserAgent,
		Timeout:    cfg.Upstream.Timeout,
		Bounds:     cfg.Upstream.Bounds,
	})

	processor := indicator.NewProcessor(db.PG, indicator.Options{TopModels: cfg.Indicators.TopModels}, logger)
	processor.OnCommit(func(indicator.Cycle) { a.reader.Invalidate() })

	deps := jobs.Deps{
		Scheduler: a.scheduler,
		Uploader:  ingest.NewUploader(client, db.PG, ingest.Options{Workers: cfg.Upstream.Workers}, logger),
		Processor: processor,
		Schema:    db.CreateSchemas,
		Metrics:   a.metrics,
		Events:    a.events,
		Schedule: jobs.Schedule{
			StartDelay:           cfg.Schedule.StartDelay,
			IndicatorOffset:      cfg.Schedule.IndicatorOffset,
			UploadFrequency:      cfg.Schedule.UploadFrequency,
			ComputationFrequency: cfg.Schedule.ComputationFrequency,
			ArchiveFrequency:     cfg.Retention.Frequency,
		},
		Logger: logger,
	}

	if cfg.Retention.Enabled {
		var archive retention.Archive
		if db.CH != nil {
			archive = db.CH
		}
		deps.Archiver = retention.NewArchiver(db.PG, archive, retention.Options{
			MaxAge:    cfg.Retention.MaxAge,
			BatchSize: cfg.Retention.BatchSize,
		}, logger)
	}

	a.exec = jobs.New(deps)
	return a, nil
}

func (a *app) close() {
	if err := a.events.Close(); err != nil {
		a.log.WithError(err).Warn("close event publisher")
	}
	a.metrics.Close()
	if err := a.jobStore.Close(); err != nil {
		a.log.WithError(err).Warn("close job store")
	}
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("close database")
	}
}

func runOnce(name string, args []string, fn func(context.Context, *app) error) error {
	cfg, err := loadConfig(name, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}

func runServe(args []string) error {
	cfg, err := loadConfig("serve", args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Jobs persisted by a previous process resume here.
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	server := api.NewServer(a.reader, a.exec, a.db.PG, api.Config{
		Port:        cfg.API.Port,
		AuthEnabled: cfg.API.AuthEnabled,
		APIKeys:     cfg.API.APIKeys,
	}, a.log)

	serveErr := server.Run(ctx)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	a.log.Info("shutting down, waiting for running jobs")
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.log.WithError(err).Warn("scheduler did not stop cleanly")
	}
	return serveErr
}
