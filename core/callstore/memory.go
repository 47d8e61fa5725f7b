package callstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aeternum-health/dispatch/core/model"
)

var _ Store = (*MemoryStore)(nil)

type record struct {
	mu   sync.Mutex
	call model.EmergencyCall
}

// MemoryStore keeps calls in memory with one lock per call.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]*record{}}
}

func (s *MemoryStore) lookup(id string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &model.NotFoundError{Entity: "call", ID: id}
	}
	return rec, nil
}

func (s *MemoryStore) Create(_ context.Context, call model.EmergencyCall) (model.EmergencyCall, error) {
	if err := PrepareCreate(&call, time.Now()); err != nil {
		return model.EmergencyCall{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[call.ID]; ok {
		return model.EmergencyCall{}, fmt.Errorf("call %q: %w", call.ID, model.ErrConflict)
	}
	s.data[call.ID] = &record{call: call}
	return call, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.EmergencyCall, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return model.EmergencyCall{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.call, nil
}

func (s *MemoryStore) snapshot(f Filter) []model.EmergencyCall {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.data))
	for _, rec := range s.data {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()
	res := make([]model.EmergencyCall, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		c := rec.call
		rec.mu.Unlock()
		if f.Match(c) {
			res = append(res, c)
		}
	}
	return res
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]model.EmergencyCall, error) {
	res := s.snapshot(f)
	sort.Slice(res, func(i, j int) bool {
		ri, rj := res[i].Timestamps.Received, res[j].Timestamps.Received
		if !ri.Equal(rj) {
			return ri.After(rj)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (s *MemoryStore) Pending(_ context.Context) ([]model.EmergencyCall, error) {
	res := s.snapshot(Filter{Status: model.CallPending})
	sort.Slice(res, func(i, j int) bool { return QueueOrder(res[i], res[j]) })
	return res, nil
}

func (s *MemoryStore) Assign(_ context.Context, id, ambulanceID string, at time.Time) (Change, error) {
	if ambulanceID == "" {
		return Change{}, &model.ValidationError{Field: "ambulance_id", Reason: "is required"}
	}
	return s.change(id, func(c *model.EmergencyCall) error { return ApplyAssign(c, ambulanceID, at) })
}

func (s *MemoryStore) Transition(_ context.Context, id string, to model.CallStatus, at time.Time) (Change, error) {
	return s.change(id, func(c *model.EmergencyCall) error { return ApplyTransition(c, to, at) })
}

func (s *MemoryStore) Requeue(_ context.Context, id, ambulanceID string, at time.Time) (Change, error) {
	return s.change(id, func(c *model.EmergencyCall) error { return ApplyRequeue(c, ambulanceID, at) })
}

func (s *MemoryStore) Annotate(_ context.Context, id string, p Patch, at time.Time) (model.EmergencyCall, error) {
	ch, err := s.change(id, func(c *model.EmergencyCall) error {
		ApplyPatch(c, p, at)
		return nil
	})
	return ch.After, err
}

// change runs fn under the record lock and restores the record if fn fails.
func (s *MemoryStore) change(id string, fn func(*model.EmergencyCall) error) (Change, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Change{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	before := rec.call
	if err := fn(&rec.call); err != nil {
		rec.call = before
		return Change{}, err
	}
	return Change{Before: before, After: rec.call}, nil
}
