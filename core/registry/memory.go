package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aeternum-health/dispatch/core/model"
)

var _ Registry = (*MemoryRegistry)(nil)

// record guards a single ambulance. The registry map lock only protects
// membership, never the record itself.
type record struct {
	mu  sync.Mutex
	amb model.Ambulance
}

// MemoryRegistry keeps ambulances in memory with one lock per record.
type MemoryRegistry struct {
	mu   sync.RWMutex
	data map[string]*record
	now  func() time.Time
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{data: map[string]*record{}, now: time.Now}
}

// SetClock overrides the time source, mainly for tests.
func (r *MemoryRegistry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *MemoryRegistry) lookup(id string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &model.NotFoundError{Entity: "ambulance", ID: id}
	}
	return rec, nil
}

func (r *MemoryRegistry) records() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]*record, 0, len(r.data))
	for _, rec := range r.data {
		recs = append(recs, rec)
	}
	return recs
}

func (r *MemoryRegistry) Register(_ context.Context, amb model.Ambulance) (model.Ambulance, error) {
	amb.PrepareRegistration(r.now())
	if err := amb.Validate(); err != nil {
		return model.Ambulance{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[amb.ID]; ok {
		return model.Ambulance{}, fmt.Errorf("ambulance %q: %w", amb.ID, model.ErrConflict)
	}
	r.data[amb.ID] = &record{amb: amb.Clone()}
	return amb, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (model.Ambulance, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return model.Ambulance{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.amb.Clone(), nil
}

func (r *MemoryRegistry) List(_ context.Context, f Filter) ([]model.Ambulance, error) {
	recs := r.records()
	res := make([]model.Ambulance, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		amb := rec.amb.Clone()
		rec.mu.Unlock()
		if f.Match(amb) {
			res = append(res, amb)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *MemoryRegistry) ListAvailable(ctx context.Context) ([]model.Ambulance, error) {
	return r.List(ctx, Filter{Status: model.AmbulanceAvailable})
}

func (r *MemoryRegistry) Reserve(_ context.Context, id, callID string) (model.Ambulance, error) {
	if callID == "" {
		return model.Ambulance{}, &model.ValidationError{Field: "call_id", Reason: "is required"}
	}
	rec, err := r.lookup(id)
	if err != nil {
		return model.Ambulance{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := ApplyReserve(&rec.amb, callID, r.now()); err != nil {
		return model.Ambulance{}, err
	}
	return rec.amb.Clone(), nil
}

func (r *MemoryRegistry) Unreserve(_ context.Context, id, callID string) (model.Ambulance, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return model.Ambulance{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := ApplyUnreserve(&rec.amb, callID, r.now()); err != nil {
		return model.Ambulance{}, err
	}
	return rec.amb.Clone(), nil
}

func (r *MemoryRegistry) Transition(_ context.Context, id string, to model.AmbulanceStatus) (Change, error) {
	return r.change(id, func(a *model.Ambulance) error { return ApplyTransition(a, to, r.now()) })
}

func (r *MemoryRegistry) Recall(_ context.Context, id, callID string) (Change, error) {
	return r.change(id, func(a *model.Ambulance) error { return ApplyRecall(a, callID, r.now()) })
}

func (r *MemoryRegistry) Release(_ context.Context, id string) (Change, error) {
	return r.change(id, func(a *model.Ambulance) error { return ApplyRelease(a, r.now()) })
}

func (r *MemoryRegistry) change(id string, fn func(*model.Ambulance) error) (Change, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return Change{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	before := rec.amb.Clone()
	if err := fn(&rec.amb); err != nil {
		rec.amb = before
		return Change{}, err
	}
	return Change{Before: before, After: rec.amb.Clone()}, nil
}

func (r *MemoryRegistry) UpdateLocation(_ context.Context, id string, c model.Coordinates, at time.Time) (model.Ambulance, error) {
	if err := c.Validate(); err != nil {
		return model.Ambulance{}, &model.ValidationError{Field: "location.coordinates", Reason: err.Error()}
	}
	rec, err := r.lookup(id)
	if err != nil {
		return model.Ambulance{}, err
	}
	if at.IsZero() {
		at = r.now()
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	// Out-of-order fixes from the feed are dropped.
	ApplyLocation(&rec.amb, c, at)
	return rec.amb.Clone(), nil
}
