package indicator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"flight_radar/internal/storage"
)

// Store is the database surface needed to compute and persist a cycle.
type Store interface {
	HasFlights(ctx context.Context) (bool, error)
	Query(ctx context.Context, query string, args ...any) (storage.Rows, error)
	InsertIndicatorResults(ctx context.Context, results []storage.IndicatorResult) error
}

// Result is one computed indicator of a cycle.
type Result struct {
	Key     string
	Name    string
	Payload json.RawMessage
}

// Cycle summarises a committed computation cycle.
type Cycle struct {
	ID         uuid.UUID
	ComputedAt time.Time
	Results    []Result
}

// Processor runs indicator computation cycles.
type Processor struct {
	store  Store
	opts   Options
	log    *logrus.Entry
	now    func() time.Time
	newID  func() uuid.UUID
	listen []func(Cycle)
}

// NewProcessor returns a processor writing through store.
func NewProcessor(store Store, opts Options, logger logrus.FieldLogger) *Processor {
	return &Processor{
		store: store,
		opts:  opts.withDefaults(),
		log:   logger.WithField("component", "indicator"),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
}

// OnCommit registers fn to be called after each committed cycle.
func (p *Processor) OnCommit(fn func(Cycle)) {
	p.listen = append(p.listen, fn)
}

// Process computes all indicators and stores them as one cycle. Any failure
// before the insert returns a *ProcessingError; a failed insert returns a
// *storage.InsertError. In both cases nothing is written.
func (p *Processor) Process(ctx context.Context) (*Cycle, error) {
	has, err := p.store.HasFlights(ctx)
	if err != nil {
		return nil, &ProcessingError{Err: err}
	}
	if !has {
		return nil, &ProcessingError{Err: ErrNoFlightData}
	}

	cycle := Cycle{ID: p.newID(), ComputedAt: p.now()}
	for _, def := range definitions {
		payload, err := p.compute(ctx, def)
		if err != nil {
			return nil, &ProcessingError{Indicator: def.Name, Err: err}
		}
		cycle.Results = append(cycle.Results, Result{Key: def.Key, Name: def.Name, Payload: payload})
	}

	rows := make([]storage.IndicatorResult, 0, len(cycle.Results))
	for _, r := range cycle.Results {
		rows = append(rows, storage.IndicatorResult{
			CycleID:              cycle.ID,
			Name:                 r.Name,
			Result:               r.Payload,
			ComputationTimestamp: cycle.ComputedAt,
		})
	}
	if err := p.store.InsertIndicatorResults(ctx, rows); err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"cycle_id":   cycle.ID,
		"indicators": len(cycle.Results),
	}).Debug("indicator cycle committed")

	for _, fn := range p.listen {
		fn(cycle)
	}
	return &cycle, nil
}

func (p *Processor) compute(ctx context.Context, def Definition) (json.RawMessage, error) {
	rows, err := p.store.Query(ctx, def.Query, def.Args(p.opts)...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	payload, err := def.Shape(rows)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return raw, nil
}
