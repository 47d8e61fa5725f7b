// Package lifecycle holds the transition tables for emergency calls and
// ambulances. Stores consult these tables before mutating a record so an
// illegal change is rejected with model.InvalidTransitionError and the record
// is left untouched.
//
// Call transitions:
//
//	pending -> dispatched -> en_route -> arrived -> completed
//	pending -> cancelled
//	dispatched | en_route -> cancelled
//	dispatched | en_route | arrived -> pending   (withdrawal only)
//
// Ambulance transitions:
//
//	available -> dispatched -> en_route -> at_scene -> returning -> available
//	available <-> maintenance
//	maintenance -> out_of_service
//	dispatched | en_route | at_scene | returning -> out_of_service
//	dispatched | en_route -> returning            (recall on cancellation)
package lifecycle

import "github.com/aeternum-health/dispatch/core/model"

var callTable = map[model.CallStatus][]model.CallStatus{
	model.CallPending:    {model.CallDispatched, model.CallCancelled},
	model.CallDispatched: {model.CallEnRoute, model.CallCancelled},
	model.CallEnRoute:    {model.CallArrived, model.CallCancelled},
	model.CallArrived:    {model.CallCompleted},
}

// requeue edges are reachable only through an emergency withdrawal of the
// assigned ambulance.
var callRequeue = map[model.CallStatus]bool{
	model.CallDispatched: true,
	model.CallEnRoute:    true,
	model.CallArrived:    true,
}

var ambulanceTable = map[model.AmbulanceStatus][]model.AmbulanceStatus{
	model.AmbulanceAvailable:   {model.AmbulanceDispatched, model.AmbulanceMaintenance},
	model.AmbulanceDispatched:  {model.AmbulanceEnRoute, model.AmbulanceReturning, model.AmbulanceOutOfService},
	model.AmbulanceEnRoute:     {model.AmbulanceAtScene, model.AmbulanceReturning, model.AmbulanceOutOfService},
	model.AmbulanceAtScene:     {model.AmbulanceReturning, model.AmbulanceOutOfService},
	model.AmbulanceReturning:   {model.AmbulanceAvailable, model.AmbulanceOutOfService},
	model.AmbulanceMaintenance: {model.AmbulanceAvailable, model.AmbulanceOutOfService},
}

// CanCall reports whether a call may move from -> to through a regular update.
func CanCall(from, to model.CallStatus) bool {
	for _, s := range callTable[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanRequeue reports whether a call in status from may be forced back to
// pending by an ambulance withdrawal.
func CanRequeue(from model.CallStatus) bool { return callRequeue[from] }

// CanAmbulance reports whether an ambulance may move from -> to.
func CanAmbulance(from, to model.AmbulanceStatus) bool {
	for _, s := range ambulanceTable[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckCall returns an InvalidTransitionError when from -> to is not allowed.
func CheckCall(id string, from, to model.CallStatus) error {
	if CanCall(from, to) {
		return nil
	}
	return &model.InvalidTransitionError{Entity: "call", ID: id, From: string(from), To: string(to)}
}

// CheckAmbulance returns an InvalidTransitionError when from -> to is not
// allowed.
func CheckAmbulance(id string, from, to model.AmbulanceStatus) error {
	if CanAmbulance(from, to) {
		return nil
	}
	return &model.InvalidTransitionError{Entity: "ambulance", ID: id, From: string(from), To: string(to)}
}

// CallTargets lists the statuses reachable from s by a regular update.
func CallTargets(s model.CallStatus) []model.CallStatus {
	return append([]model.CallStatus(nil), callTable[s]...)
}

// AmbulanceTargets lists the statuses reachable from s.
func AmbulanceTargets(s model.AmbulanceStatus) []model.AmbulanceStatus {
	return append([]model.AmbulanceStatus(nil), ambulanceTable[s]...)
}
