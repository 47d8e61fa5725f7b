package events

import (
	"time"

	"github.com/aeternum-health/dispatch/core/model"
)

// CallEvent is published after every committed call change.
type CallEvent struct {
	Call model.EmergencyCall
	From model.CallStatus
	Time time.Time
}

// DispatchEvent is published when a call and an ambulance were linked.
type DispatchEvent struct {
	CallID      string
	AmbulanceID string
	Priority    model.Priority
	DistanceKm  float64
	ETA         time.Duration
	Wait        time.Duration
	Time        time.Time
}

// QueuedEvent is published when a call could not be matched and waits.
type QueuedEvent struct {
	CallID   string
	Tier     model.Tier
	Position int
	Time     time.Time
}

// EscalationKind distinguishes a tier promotion from an overdue alert.
type EscalationKind string

const (
	EscalationPromoted EscalationKind = "promoted"
	EscalationOverdue  EscalationKind = "overdue"
)

// EscalationEvent reports a queued call waiting past the threshold.
type EscalationEvent struct {
	CallID string
	Kind   EscalationKind
	From   model.Tier
	To     model.Tier
	Waited time.Duration
	Time   time.Time
}

// AmbulanceEvent is published after every committed ambulance transition.
type AmbulanceEvent struct {
	Ambulance model.Ambulance
	From      model.AmbulanceStatus
	Time      time.Time
}

// ETAEvent carries a fresh estimate for a dispatched ambulance.
type ETAEvent struct {
	AmbulanceID string
	CallID      string
	DistanceKm  float64
	ETA         time.Duration
	Time        time.Time
}

// ArrivalEvent is published when an ambulance is detected at the scene.
type ArrivalEvent struct {
	AmbulanceID string
	CallID      string
	// Response is the time between dispatch and arrival.
	Response time.Duration
	Time     time.Time
}

// RequeueEvent is published when an ambulance withdrawal returned its call to
// the pending queue.
type RequeueEvent struct {
	CallID      string
	AmbulanceID string
	From        model.CallStatus
	Time        time.Time
}
