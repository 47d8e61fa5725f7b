package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aeternum-health/dispatch/core/events"
	"github.com/aeternum-health/dispatch/core/logger"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/internal/eventbus"
)

// ArrivalHandler performs the coupled arrival transition for a call. It is
// called at most once per successful detection.
type ArrivalHandler func(ctx context.Context, ambulanceID, callID string, at time.Time) error

// Config holds the estimator parameters.
type Config struct {
	SpeedKmh           float64
	ArrivalThresholdKm float64
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.SpeedKmh <= 0 {
		c.SpeedKmh = DefaultSpeedKmh
	}
	if c.ArrivalThresholdKm <= 0 {
		c.ArrivalThresholdKm = DefaultArrivalThresholdKm
	}
}

// ErrNoFix is returned by Start when the ambulance has never reported a
// position. The assignment is still tracked and its first estimate comes
// with the first fix.
var ErrNoFix = errors.New("tracking: ambulance has no position fix")

// assignment is one tracked run. last is only meaningful once estimated.
type assignment struct {
	callID    string
	dest      model.Coordinates
	last      events.ETAEvent
	estimated bool
	arrived   bool
}

// Tracker follows active assignments keyed by ambulance id.
type Tracker struct {
	cfg    Config
	bus    eventbus.EventBus
	log    logger.Logger
	mu     sync.Mutex
	active map[string]*assignment
	arrive ArrivalHandler
}

// NewTracker returns a tracker publishing estimates on bus. bus may be nil.
func NewTracker(cfg Config, bus eventbus.EventBus, log logger.Logger) *Tracker {
	cfg.SetDefaults()
	return &Tracker{cfg: cfg, bus: bus, log: log, active: map[string]*assignment{}}
}

// OnArrival sets the handler invoked when an ambulance reaches its scene.
func (t *Tracker) OnArrival(h ArrivalHandler) {
	t.mu.Lock()
	t.arrive = h
	t.mu.Unlock()
}

// Start begins tracking ambulanceID towards dest and returns the first
// estimate. A zero from yields ErrNoFix.
func (t *Tracker) Start(ambulanceID, callID string, from, dest model.Coordinates, at time.Time) (events.ETAEvent, error) {
	if dest.IsZero() {
		return events.ETAEvent{}, fmt.Errorf("tracking: call %s has no coordinates", callID)
	}
	if from.IsZero() {
		t.mu.Lock()
		t.active[ambulanceID] = &assignment{callID: callID, dest: dest}
		t.mu.Unlock()
		return events.ETAEvent{}, ErrNoFix
	}
	ev, err := t.estimate(ambulanceID, callID, from, dest, at)
	if err != nil {
		return events.ETAEvent{}, err
	}
	t.mu.Lock()
	t.active[ambulanceID] = &assignment{callID: callID, dest: dest, last: ev, estimated: true}
	t.mu.Unlock()
	t.publish(ev)
	return ev, nil
}

// Stop ends tracking for ambulanceID.
func (t *Tracker) Stop(ambulanceID string) {
	t.mu.Lock()
	delete(t.active, ambulanceID)
	t.mu.Unlock()
}

// Latest returns the last estimate for the ambulance serving callID.
func (t *Tracker) Latest(ambulanceID string) (events.ETAEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.active[ambulanceID]
	if !ok || !a.estimated {
		return events.ETAEvent{}, false
	}
	return a.last, true
}

// Active returns the number of tracked assignments.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// OnLocation recomputes the estimate for a position fix. Untracked
// ambulances are ignored. When the ambulance is within the arrival threshold
// the arrival handler runs; a failed handler is retried on the next fix.
func (t *Tracker) OnLocation(ctx context.Context, ambulanceID string, c model.Coordinates, at time.Time) (events.ETAEvent, bool) {
	t.mu.Lock()
	a, ok := t.active[ambulanceID]
	if !ok {
		t.mu.Unlock()
		return events.ETAEvent{}, false
	}
	callID, dest, arrived := a.callID, a.dest, a.arrived
	h := t.arrive
	t.mu.Unlock()

	ev, err := t.estimate(ambulanceID, callID, c, dest, at)
	if err != nil {
		t.log.Errorf("eta for %s: %v", ambulanceID, err)
		return events.ETAEvent{}, false
	}
	t.mu.Lock()
	if cur, ok := t.active[ambulanceID]; ok && cur.callID == callID {
		cur.last, cur.estimated = ev, true
	}
	t.mu.Unlock()
	t.publish(ev)

	if arrived || ev.DistanceKm > t.cfg.ArrivalThresholdKm || h == nil {
		return ev, true
	}
	if err := h(ctx, ambulanceID, callID, at); err != nil {
		t.log.Debugf("arrival of %s at %s not applied: %v", ambulanceID, callID, err)
		return ev, true
	}
	t.mu.Lock()
	if cur, ok := t.active[ambulanceID]; ok && cur.callID == callID {
		cur.arrived = true
	}
	t.mu.Unlock()
	return ev, true
}

func (t *Tracker) estimate(ambulanceID, callID string, from, dest model.Coordinates, at time.Time) (events.ETAEvent, error) {
	eta, err := EstimateETA(from, dest, t.cfg.SpeedKmh)
	if err != nil {
		return events.ETAEvent{}, err
	}
	return events.ETAEvent{
		AmbulanceID: ambulanceID,
		CallID:      callID,
		DistanceKm:  model.Distance(from, dest),
		ETA:         eta,
		Time:        at,
	}, nil
}

func (t *Tracker) publish(ev events.ETAEvent) {
	if t.bus != nil {
		t.bus.Publish(ev)
	}
}
