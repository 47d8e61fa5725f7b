package metrics

import (
	"time"

	"github.com/aeternum-health/dispatch/core/model"
)

// DispatchRecord describes one ambulance bound to one call.
type DispatchRecord struct {
	CallID      string
	AmbulanceID string
	Priority    model.Priority
	DistanceKm  float64
	ETA         time.Duration
	// Wait is the time between call receipt and dispatch.
	Wait time.Duration
	Time time.Time
}

// MetricsSink records dispatch decisions for observability purposes.
type MetricsSink interface {
	RecordDispatch(rec DispatchRecord) error
}

// EscalationRecord captures a queue escalation.
type EscalationRecord struct {
	CallID string
	Kind   string
	From   model.Tier
	To     model.Tier
	Waited time.Duration
	Time   time.Time
}

// EscalationRecorder records queue escalations.
type EscalationRecorder interface {
	RecordEscalation(ev EscalationRecord) error
}

// QueueSnapshot is the size of the pending queue at a point in time.
type QueueSnapshot struct {
	Length int
	Time   time.Time
}

// QueueRecorder records pending queue sizes.
type QueueRecorder interface {
	RecordQueue(ev QueueSnapshot) error
}

// PositionEvent is one location fix of an ambulance.
type PositionEvent struct {
	AmbulanceID string
	Status      model.AmbulanceStatus
	Coordinates model.Coordinates
	Time        time.Time
}

// PositionRecorder records ambulance positions.
type PositionRecorder interface {
	RecordPosition(ev PositionEvent) error
}

// StatusEvent is an ambulance status transition.
type StatusEvent struct {
	AmbulanceID string
	From        model.AmbulanceStatus
	To          model.AmbulanceStatus
	Time        time.Time
}

// StatusRecorder records ambulance status transitions.
type StatusRecorder interface {
	RecordStatus(ev StatusEvent) error
}

// ArrivalRecord captures an ambulance reaching its scene.
type ArrivalRecord struct {
	CallID      string
	AmbulanceID string
	// Response is the time between dispatch and arrival.
	Response time.Duration
	Time     time.Time
}

// ArrivalRecorder records arrivals.
type ArrivalRecorder interface {
	RecordArrival(ev ArrivalRecord) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDispatch(DispatchRecord) error     { return nil }
func (NopSink) RecordEscalation(EscalationRecord) error { return nil }
func (NopSink) RecordQueue(QueueSnapshot) error         { return nil }
func (NopSink) RecordPosition(PositionEvent) error      { return nil }
func (NopSink) RecordStatus(StatusEvent) error          { return nil }
func (NopSink) RecordArrival(ArrivalRecord) error       { return nil }
