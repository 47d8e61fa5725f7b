package registry

import (
	"fmt"
	"time"

	"github.com/aeternum-health/dispatch/core/lifecycle"
	"github.com/aeternum-health/dispatch/core/model"
)

// The Apply functions mutate a record in place and leave it untouched on
// error. Backends call them while holding the record, under a lock or a
// versioned update.

// ApplyReserve claims an available ambulance for callID.
func ApplyReserve(a *model.Ambulance, callID string, now time.Time) error {
	if a.Status != model.AmbulanceAvailable {
		return fmt.Errorf("ambulance %q is %s: %w", a.ID, a.Status, model.ErrNoCapacity)
	}
	a.Status = model.AmbulanceDispatched
	a.CurrentCallID = callID
	a.UpdatedAt = now
	return nil
}

// ApplyUnreserve undoes ApplyReserve for callID.
func ApplyUnreserve(a *model.Ambulance, callID string, now time.Time) error {
	if a.Status != model.AmbulanceDispatched || a.CurrentCallID != callID {
		return &model.InvalidTransitionError{Entity: "ambulance", ID: a.ID, From: string(a.Status), To: string(model.AmbulanceAvailable)}
	}
	a.Status = model.AmbulanceAvailable
	a.CurrentCallID = ""
	a.UpdatedAt = now
	return nil
}

// ApplyTransition moves a to status to. Entering dispatched is reserved to
// ApplyReserve.
func ApplyTransition(a *model.Ambulance, to model.AmbulanceStatus, now time.Time) error {
	if to == model.AmbulanceDispatched {
		return &model.InvalidTransitionError{Entity: "ambulance", ID: a.ID, From: string(a.Status), To: string(to)}
	}
	if err := lifecycle.CheckAmbulance(a.ID, a.Status, to); err != nil {
		return err
	}
	a.Status = to
	if !to.Active() {
		a.CurrentCallID = ""
	}
	a.UpdatedAt = now
	return nil
}

// ApplyRelease moves a returning ambulance back to available.
func ApplyRelease(a *model.Ambulance, now time.Time) error {
	if a.Status != model.AmbulanceReturning {
		return &model.InvalidTransitionError{Entity: "ambulance", ID: a.ID, From: string(a.Status), To: string(model.AmbulanceAvailable)}
	}
	return ApplyTransition(a, model.AmbulanceAvailable, now)
}

// ApplyRecall sends an ambulance still bound to callID back to base from
// dispatched, en_route or at_scene. An ambulance already returning from
// callID is left as is.
func ApplyRecall(a *model.Ambulance, callID string, now time.Time) error {
	if a.CurrentCallID != callID || !a.Status.Active() {
		return &model.InvalidTransitionError{Entity: "ambulance", ID: a.ID, From: string(a.Status), To: string(model.AmbulanceReturning)}
	}
	if a.Status == model.AmbulanceReturning {
		return nil
	}
	a.Status = model.AmbulanceReturning
	a.UpdatedAt = now
	return nil
}

// ApplyLocation records a position fix. Fixes older than the current one are
// ignored and reported as false.
func ApplyLocation(a *model.Ambulance, c model.Coordinates, at time.Time) bool {
	if at.Before(a.Location.LastUpdated) {
		return false
	}
	a.Location = model.Position{Coordinates: c, LastUpdated: at}
	return true
}
