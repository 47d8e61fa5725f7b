// Package registry is the authoritative store of ambulance records. It owns
// the only write path across the available/dispatched boundary: Reserve is a
// compare-and-swap that claims an ambulance only while it is available.
package registry

import (
	"context"
	"time"

	"github.com/aeternum-health/dispatch/core/model"
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status     model.AmbulanceStatus
	HospitalID string
}

// Match reports whether a passes the filter.
func (f Filter) Match(a model.Ambulance) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.HospitalID != "" && a.HospitalID != f.HospitalID {
		return false
	}
	return true
}

// Change is the state of an ambulance before and after a transition.
type Change struct {
	Before model.Ambulance
	After  model.Ambulance
}

// Registry stores ambulances and enforces their state machine.
type Registry interface {
	// Register adds a new ambulance in the available state.
	Register(ctx context.Context, amb model.Ambulance) (model.Ambulance, error)
	Get(ctx context.Context, id string) (model.Ambulance, error)
	// List returns ambulances sorted by id.
	List(ctx context.Context, f Filter) ([]model.Ambulance, error)
	ListAvailable(ctx context.Context) ([]model.Ambulance, error)
	// Reserve sets status dispatched and binds callID, only if the ambulance
	// is available. Losers get model.ErrNoCapacity.
	Reserve(ctx context.Context, id, callID string) (model.Ambulance, error)
	// Unreserve undoes a reservation for callID that could not be committed
	// on the call side.
	Unreserve(ctx context.Context, id, callID string) (model.Ambulance, error)
	// Transition applies any allowed transition except those owned by
	// Reserve and Unreserve. Moving to a non-active status clears the call.
	Transition(ctx context.Context, id string, to model.AmbulanceStatus) (Change, error)
	// Recall moves an ambulance still bound to callID to returning, whatever
	// leg of the call it is on. Any other binding is an invalid transition.
	Recall(ctx context.Context, id, callID string) (Change, error)
	// Release moves a returning ambulance back to available.
	Release(ctx context.Context, id string) (Change, error)
	UpdateLocation(ctx context.Context, id string, c model.Coordinates, at time.Time) (model.Ambulance, error)
}
