package indicator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"flight_radar/internal/storage"
)

// ResultSource reads committed indicator rows.
type ResultSource interface {
	GetLatestIndicator(ctx context.Context, name string) (*storage.IndicatorResult, error)
}

// Snapshot is the latest committed result of one indicator.
type Snapshot struct {
	Key        string          `json:"key"`
	Name       string          `json:"name"`
	Title      string          `json:"title"`
	ComputedAt *time.Time      `json:"computation_timestamp"`
	Result     json.RawMessage `json:"result"`
}

// Reader serves the latest committed indicator results, caching them for a
// short TTL. Only committed rows are ever visible. Invalidate makes cycles
// committed in this process visible at once; a cycle committed by another
// process shows up once the cached entry expires.
type Reader struct {
	src   ResultSource
	cache *cache.Cache

	// gen is bumped by Invalidate; a read started under an older gen is
	// returned but not cached.
	mu  sync.Mutex
	gen uint64
}

// NewReader returns a reader over src. A ttl of zero disables caching.
func NewReader(src ResultSource, ttl time.Duration) *Reader {
	r := &Reader{src: src}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// Latest returns the latest snapshot for a public key or internal name. An
// indicator that was never computed has an empty object as result.
func (r *Reader) Latest(ctx context.Context, keyOrName string) (Snapshot, error) {
	def, ok := Lookup(keyOrName)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownIndicator, keyOrName)
	}

	var gen uint64
	if r.cache != nil {
		if v, found := r.cache.Get(def.Name); found {
			return v.(Snapshot), nil
		}
		r.mu.Lock()
		gen = r.gen
		r.mu.Unlock()
	}

	row, err := r.src.GetLatestIndicator(ctx, def.Name)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read indicator %s: %w", def.Name, err)
	}

	snap := Snapshot{Key: def.Key, Name: def.Name, Title: def.Title, Result: json.RawMessage(`{}`)}
	if row != nil {
		ts := row.ComputationTimestamp
		snap.ComputedAt = &ts
		snap.Result = row.Result
	}

	if r.cache != nil {
		r.mu.Lock()
		if r.gen == gen {
			r.cache.SetDefault(def.Name, snap)
		}
		r.mu.Unlock()
	}
	return snap, nil
}

// All returns the latest snapshot of every indicator in registry order.
func (r *Reader) All(ctx context.Context) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(definitions))
	for _, def := range definitions {
		snap, err := r.Latest(ctx, def.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Invalidate drops every cached snapshot. Called after a cycle commits.
func (r *Reader) Invalidate() {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	r.gen++
	r.cache.Flush()
	r.mu.Unlock()
}
