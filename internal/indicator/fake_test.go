package indicator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"flight_radar/internal/storage"
)

// fakeRows is an in-memory storage.Rows. Nil cells scan as NULL.
type fakeRows struct {
	data   [][]any
	i      int
	err    error
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.i-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		if row[i] == nil {
			if dv.Kind() != reflect.Ptr {
				return fmt.Errorf("scan: NULL into non-nullable column %d", i)
			}
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		v := reflect.ValueOf(row[i])
		if dv.Kind() == reflect.Ptr {
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(v.Convert(dv.Type().Elem()))
			dv.Set(p)
			continue
		}
		if !v.Type().ConvertibleTo(dv.Type()) {
			return fmt.Errorf("scan: cannot convert %s to %s", v.Type(), dv.Type())
		}
		dv.Set(v.Convert(dv.Type()))
	}
	return nil
}

func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) Close()     { r.closed = true }

// fakeStore serves canned rows per indicator name.
type fakeStore struct {
	mu        sync.Mutex
	hasFlight bool
	hasErr    error
	rows      map[string][][]any
	queryErr  map[string]error
	insertErr error
	inserted  [][]storage.IndicatorResult
	args      map[string][]any
	opened    []*fakeRows
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hasFlight: true,
		rows:      map[string][][]any{},
		queryErr:  map[string]error{},
		args:      map[string][]any{},
	}
}

func (s *fakeStore) HasFlights(ctx context.Context) (bool, error) {
	return s.hasFlight, s.hasErr
}

func (s *fakeStore) Query(ctx context.Context, query string, args ...any) (storage.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range definitions {
		if def.Query != query {
			continue
		}
		s.args[def.Name] = args
		if err := s.queryErr[def.Name]; err != nil {
			return nil, err
		}
		rows := &fakeRows{data: s.rows[def.Name]}
		s.opened = append(s.opened, rows)
		return rows, nil
	}
	return nil, errors.New("unexpected query")
}

func (s *fakeStore) InsertIndicatorResults(ctx context.Context, results []storage.IndicatorResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return &storage.InsertError{Table: "indicator", Rows: len(results), Err: s.insertErr}
	}
	s.inserted = append(s.inserted, results)
	return nil
}

// fakeSource serves the latest stored row per name and counts reads.
type fakeSource struct {
	mu     sync.Mutex
	latest map[string]*storage.IndicatorResult
	reads  map[string]int
	err    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{latest: map[string]*storage.IndicatorResult{}, reads: map[string]int{}}
}

func (s *fakeSource) GetLatestIndicator(ctx context.Context, name string) (*storage.IndicatorResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[name]++
	if s.err != nil {
		return nil, s.err
	}
	return s.latest[name], nil
}
