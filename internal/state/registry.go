package state

import (
	"sync"
	"sync/atomic"
	"time"

	"storefront/internal/metrics"
)

// Registry maps visitor ids to their Store. Each browsing session is an
// independent Store; nothing is shared between them.
type Registry struct {
	stores  sync.Map
	count   atomic.Int64
	metrics *metrics.Metrics
}

// NewRegistry creates an empty Registry.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{metrics: m}
}

// Get returns the Store for id if it exists.
func (r *Registry) Get(id string) (*Store, bool) {
	v, ok := r.stores.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Store), true
}

// LoadOrCreate returns the Store for id, creating an empty one when missing.
// created is true for the caller that created it, which is then responsible
// for rehydrating it.
func (r *Registry) LoadOrCreate(id string) (store *Store, created bool) {
	if s, ok := r.Get(id); ok {
		return s, false
	}
	fresh := NewStore(Snapshot{})
	v, loaded := r.stores.LoadOrStore(id, fresh)
	if !loaded {
		r.metrics.SetVisitors(int(r.count.Add(1)))
	}
	return v.(*Store), !loaded
}

// Range calls fn for every Store until fn returns false.
func (r *Registry) Range(fn func(id string, s *Store) bool) {
	r.stores.Range(func(k, v any) bool {
		return fn(k.(string), v.(*Store))
	})
}

// Sweep removes stores idle since before cutoff and reports how many.
func (r *Registry) Sweep(cutoff time.Time) int {
	removed := 0
	r.stores.Range(func(k, v any) bool {
		if v.(*Store).LastSeen().Before(cutoff) {
			if r.stores.CompareAndDelete(k, v) {
				removed++
				r.count.Add(-1)
			}
		}
		return true
	})
	if removed > 0 {
		r.metrics.SetVisitors(int(r.count.Load()))
	}
	return removed
}

// Len reports the number of live stores.
func (r *Registry) Len() int {
	return int(r.count.Load())
}
