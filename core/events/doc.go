// Package events defines the dispatch events published on the event bus.
//
// Available event types:
//   - CallEvent: a call was created or changed status
//   - DispatchEvent: an ambulance was reserved for a call
//   - QueuedEvent: a call entered the pending queue
//   - EscalationEvent: a queued call was promoted or flagged overdue
//   - AmbulanceEvent: an ambulance changed status
//   - ETAEvent: a fresh arrival estimate for a dispatched ambulance
//   - ArrivalEvent: an ambulance reached the scene
//   - RequeueEvent: a call lost its ambulance and went back to pending
package events
