package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	callsReceived        *prometheus.CounterVec
	callsDispatched      *prometheus.CounterVec
	dispatchWait         *prometheus.HistogramVec
	queueLength          prometheus.Gauge
	reservationConflicts prometheus.Counter
	invalidTransitions   *prometheus.CounterVec
	escalations          *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge, prometheus.Counter, *prometheus.CounterVec, *prometheus.CounterVec) {
	recv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emergency_calls_received_total",
			Help: "Number of emergency calls accepted at intake",
		},
		[]string{"priority"},
	)
	disp := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emergency_calls_dispatched_total",
			Help: "Number of calls bound to an ambulance",
		},
		[]string{"priority"},
	)
	wait := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_wait_seconds",
			Help:    "Time from call receipt to ambulance dispatch",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"priority"},
	)
	qlen := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_queue_length",
			Help: "Number of calls waiting for an ambulance",
		},
	)
	conflicts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_reservation_conflicts_total",
			Help: "Reservations lost because the ambulance was no longer available",
		},
	)
	invalid := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_invalid_transitions_total",
			Help: "Rejected state changes",
		},
		[]string{"entity"},
	)
	esc := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_escalations_total",
			Help: "Queue escalations by kind",
		},
		[]string{"kind"},
	)
	return recv, disp, wait, qlen, conflicts, invalid, esc
}

func init() {
	callsReceived, callsDispatched, dispatchWait, queueLength, reservationConflicts, invalidTransitions, escalations = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(callsReceived, callsDispatched, dispatchWait, queueLength, reservationConflicts, invalidTransitions, escalations)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	callsReceived, callsDispatched, dispatchWait, queueLength, reservationConflicts, invalidTransitions, escalations = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
