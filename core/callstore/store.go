// Package callstore keeps emergency calls. Every status change is validated
// against the call lifecycle under the record's own lock, so concurrent field
// updates and dispatch decisions never interleave on one call.
package callstore

import (
	"context"
	"time"

	"github.com/aeternum-health/dispatch/core/lifecycle"
	"github.com/aeternum-health/dispatch/core/model"
)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status     model.CallStatus
	Priority   model.Priority
	HospitalID string
}

// Match reports whether c passes the filter.
func (f Filter) Match(c model.EmergencyCall) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Priority != "" && c.Priority != f.Priority {
		return false
	}
	if f.HospitalID != "" && c.HospitalID != f.HospitalID {
		return false
	}
	return true
}

// Change is the state of a call before and after an update.
type Change struct {
	Before model.EmergencyCall
	After  model.EmergencyCall
}

// Patch holds the free-form fields field staff may edit. Nil fields are left
// untouched.
type Patch struct {
	Notes            *string
	TrafficAlertSent *bool
}

// Store persists emergency calls.
type Store interface {
	// Create stores a new pending call.
	Create(ctx context.Context, call model.EmergencyCall) (model.EmergencyCall, error)
	Get(ctx context.Context, id string) (model.EmergencyCall, error)
	// List returns calls sorted by received time, newest first.
	List(ctx context.Context, f Filter) ([]model.EmergencyCall, error)
	// Pending returns pending calls in queue order: priority tier desc, then
	// received time asc.
	Pending(ctx context.Context) ([]model.EmergencyCall, error)
	// Assign links a pending call to ambulanceID and moves it to dispatched.
	Assign(ctx context.Context, id, ambulanceID string, at time.Time) (Change, error)
	// Transition applies a regular lifecycle edge. Leaving the assigned states
	// clears the ambulance reference.
	Transition(ctx context.Context, id string, to model.CallStatus, at time.Time) (Change, error)
	// Requeue returns a call held by ambulanceID to pending.
	Requeue(ctx context.Context, id, ambulanceID string, at time.Time) (Change, error)
	Annotate(ctx context.Context, id string, p Patch, at time.Time) (model.EmergencyCall, error)
}

// The Apply functions mutate a call in place and leave it untouched on error.
// Backends call them while holding the record.

// ApplyAssign links a pending call to ambulanceID.
func ApplyAssign(c *model.EmergencyCall, ambulanceID string, at time.Time) error {
	if err := lifecycle.CheckCall(c.ID, c.Status, model.CallDispatched); err != nil {
		return err
	}
	c.Status = model.CallDispatched
	c.AssignedAmbulanceID = ambulanceID
	stamp(c, model.CallDispatched, at)
	c.UpdatedAt = at
	return nil
}

// ApplyTransition moves c along a regular lifecycle edge. Dispatch needs an
// ambulance and goes through ApplyAssign.
func ApplyTransition(c *model.EmergencyCall, to model.CallStatus, at time.Time) error {
	if to == model.CallDispatched {
		return &model.InvalidTransitionError{Entity: "call", ID: c.ID, From: string(c.Status), To: string(to)}
	}
	if err := lifecycle.CheckCall(c.ID, c.Status, to); err != nil {
		return err
	}
	c.Status = to
	if !to.HoldsAmbulance() {
		c.AssignedAmbulanceID = ""
	}
	stamp(c, to, at)
	c.UpdatedAt = at
	return nil
}

// ApplyRequeue returns a call held by ambulanceID to pending.
func ApplyRequeue(c *model.EmergencyCall, ambulanceID string, at time.Time) error {
	if !lifecycle.CanRequeue(c.Status) || c.AssignedAmbulanceID != ambulanceID {
		return &model.InvalidTransitionError{Entity: "call", ID: c.ID, From: string(c.Status), To: string(model.CallPending)}
	}
	c.Status = model.CallPending
	c.AssignedAmbulanceID = ""
	c.UpdatedAt = at
	return nil
}

// ApplyPatch copies the set fields of p.
func ApplyPatch(c *model.EmergencyCall, p Patch, at time.Time) {
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	if p.TrafficAlertSent != nil {
		c.TrafficAlertSent = *p.TrafficAlertSent
	}
	c.UpdatedAt = at
}

// PrepareCreate checks a new call and fills in its defaults.
func PrepareCreate(call *model.EmergencyCall, now time.Time) error {
	if call.ID == "" {
		return &model.ValidationError{Field: "id", Reason: "is required"}
	}
	if call.Status == "" {
		call.Status = model.CallPending
	}
	if call.Status != model.CallPending || call.AssignedAmbulanceID != "" {
		return &model.ValidationError{Field: "status", Reason: "new calls must be pending and unassigned"}
	}
	if call.Timestamps.Received.IsZero() {
		call.Timestamps.Received = now
	}
	call.UpdatedAt = call.Timestamps.Received
	return nil
}

// stamp records the milestone for status to, at most once and never earlier
// than the previous milestone.
func stamp(c *model.EmergencyCall, to model.CallStatus, at time.Time) {
	ts := &c.Timestamps
	floor := ts.Received
	for _, t := range []time.Time{ts.Dispatched, ts.Arrived, ts.Completed} {
		if t.After(floor) {
			floor = t
		}
	}
	if at.Before(floor) {
		at = floor
	}
	switch to {
	case model.CallDispatched:
		if ts.Dispatched.IsZero() {
			ts.Dispatched = at
		}
	case model.CallArrived:
		if ts.Arrived.IsZero() {
			ts.Arrived = at
		}
	case model.CallCompleted:
		if ts.Completed.IsZero() {
			ts.Completed = at
		}
	}
}

// QueueOrder reports whether a precedes b in the pending queue.
func QueueOrder(a, b model.EmergencyCall) bool {
	ta, tb := a.Priority.Tier(), b.Priority.Tier()
	if ta != tb {
		return ta > tb
	}
	if !a.Timestamps.Received.Equal(b.Timestamps.Received) {
		return a.Timestamps.Received.Before(b.Timestamps.Received)
	}
	return a.ID < b.ID
}
