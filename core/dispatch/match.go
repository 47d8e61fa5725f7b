package dispatch

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch/logging"
	"github.com/aeternum-health/dispatch/core/events"
	"github.com/aeternum-health/dispatch/core/metrics"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/notify"
	"github.com/aeternum-health/dispatch/core/queue"
	"github.com/aeternum-health/dispatch/core/tracking"
)

// Outcome is the result of a matching attempt.
type Outcome struct {
	Call       model.EmergencyCall
	Ambulance  *model.Ambulance
	DistanceKm float64
	ETA        time.Duration
	// QueuePosition is the 1-based position when the call is waiting.
	QueuePosition int
}

// Dispatched reports whether an ambulance was bound to the call.
func (o Outcome) Dispatched() bool { return o.Ambulance != nil }

// Match tries to bind the pending call id to an ambulance and queues it when
// none could be reserved. A capacity shortage is not an error.
func (m *Manager) Match(ctx context.Context, id string) (Outcome, error) {
	call, err := m.calls.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if call.Status != model.CallPending {
		return Outcome{Call: call}, nil
	}
	out, err := m.assign(ctx, call)
	if err != nil || out.Dispatched() || out.Call.Status != model.CallPending {
		return out, err
	}
	out = m.enqueue(ctx, out.Call)
	// An ambulance freed while this call was being matched may have found
	// the queue empty; drain once more so the call does not wait for it.
	if avail, err := m.registry.ListAvailable(ctx); err == nil && len(avail) > 0 {
		if _, err := m.Drain(ctx); err != nil {
			return out, nil
		}
		if cur, err := m.calls.Get(ctx, id); err == nil && cur.Status != model.CallPending {
			return m.outcomeOf(ctx, cur), nil
		}
		out.QueuePosition, _ = m.queue.Position(id)
	}
	return out, nil
}

// outcomeOf describes the current assignment of call.
func (m *Manager) outcomeOf(ctx context.Context, call model.EmergencyCall) Outcome {
	out := Outcome{Call: call}
	if call.AssignedAmbulanceID != "" {
		if amb, err := m.registry.Get(ctx, call.AssignedAmbulanceID); err == nil {
			out.Ambulance = &amb
		}
		if ev, ok := m.tracker.Latest(call.AssignedAmbulanceID); ok && ev.CallID == call.ID {
			out.DistanceKm, out.ETA = ev.DistanceKm, ev.ETA
		}
	}
	if call.Status == model.CallPending {
		out.QueuePosition, _ = m.queue.Position(call.ID)
	}
	return out
}

// assign makes one pass over the ranked available ambulances. It never
// queues; a zero Ambulance in the outcome means no reservation held.
func (m *Manager) assign(ctx context.Context, call model.EmergencyCall) (Outcome, error) {
	available, err := m.registry.ListAvailable(ctx)
	if err != nil {
		m.unexpected("list available", err)
		return Outcome{Call: call}, err
	}
	for _, c := range m.ranker.Rank(call, available) {
		amb, err := m.registry.Reserve(ctx, c.Ambulance.ID, call.ID)
		if errors.Is(err, model.ErrNoCapacity) {
			reservationConflicts.Inc()
			continue
		}
		if err != nil {
			m.unexpected("reserve", err)
			continue
		}
		ch, err := m.calls.Assign(ctx, call.ID, amb.ID, m.now())
		if err != nil {
			// The call left pending (cancelled or matched elsewhere) after
			// the reservation; give the ambulance back.
			if _, uerr := m.registry.Unreserve(ctx, amb.ID, call.ID); uerr != nil {
				m.unexpected("unreserve", uerr)
			}
			m.requestDrain()
			cur, gerr := m.calls.Get(ctx, call.ID)
			if gerr != nil {
				return Outcome{Call: call}, gerr
			}
			if errors.Is(err, model.ErrInvalidTransition) {
				return Outcome{Call: cur}, nil
			}
			m.unexpected("assign call", err)
			return Outcome{Call: cur}, err
		}
		return m.dispatched(ctx, ch.Before, ch.After, amb, c.DistanceKm), nil
	}
	return Outcome{Call: call}, nil
}

// dispatched runs the side effects of a committed call/ambulance binding.
func (m *Manager) dispatched(ctx context.Context, before, call model.EmergencyCall, amb model.Ambulance, distKm float64) Outcome {
	m.queue.Remove(call.ID)
	now := call.Timestamps.Dispatched
	out := Outcome{Call: call, Ambulance: &amb}
	ev, err := m.tracker.Start(amb.ID, call.ID, amb.Location.Coordinates, call.Location.Coordinates, now)
	switch {
	case err == nil:
		out.DistanceKm, out.ETA = ev.DistanceKm, ev.ETA
	case errors.Is(err, tracking.ErrNoFix):
		m.log.Debugf("ambulance %s has no position yet, estimate deferred", amb.ID)
	default:
		m.log.Debugf("not tracking %s: %v", amb.ID, err)
		if !math.IsInf(distKm, 0) {
			out.DistanceKm = distKm
		}
	}
	wait := now.Sub(call.Timestamps.Received)
	if wait < 0 {
		wait = 0
	}
	p := string(call.Priority)
	callsDispatched.WithLabelValues(p).Inc()
	dispatchWait.WithLabelValues(p).Observe(wait.Seconds())
	queueLength.Set(float64(m.queue.Len()))

	m.publish(events.CallEvent{Call: call, From: before.Status, Time: now})
	m.publish(events.AmbulanceEvent{Ambulance: amb, From: model.AmbulanceAvailable, Time: now})
	m.publish(events.DispatchEvent{
		CallID: call.ID, AmbulanceID: amb.ID, Priority: call.Priority,
		DistanceKm: out.DistanceKm, ETA: out.ETA, Wait: wait, Time: now,
	})
	if err := m.metrics.RecordDispatch(metrics.DispatchRecord{
		CallID: call.ID, AmbulanceID: amb.ID, Priority: call.Priority,
		DistanceKm: out.DistanceKm, ETA: out.ETA, Wait: wait, Time: now,
	}); err != nil {
		m.log.Errorf("metrics error: %v", err)
	}
	m.log.Infof("dispatched %s to call %s (%s, %.2f km, eta %s)", amb.ID, call.ID, call.Priority, out.DistanceKm, out.ETA)
	m.audit(ctx, logging.LogRecord{
		Timestamp: now, Action: logging.ActionDispatched, CallID: call.ID, AmbulanceID: amb.ID,
		Priority: p, From: string(before.Status), To: string(call.Status),
		DistanceKm: out.DistanceKm, ETASeconds: out.ETA.Seconds(),
	})
	fields := map[string]string{
		"emergency_type": string(call.Type),
		"patient_name":   call.PatientName,
		"contact_number": call.ContactNumber,
		"eta":            out.ETA.String(),
	}
	if c := call.Location.Coordinates; !c.IsZero() {
		fields["scene_lat"] = strconv.FormatFloat(c.Lat, 'f', 6, 64)
		fields["scene_lng"] = strconv.FormatFloat(c.Lng, 'f', 6, 64)
	}
	m.notify(ctx, notify.Notification{
		Kind: notify.KindDispatch, CallID: call.ID, AmbulanceID: amb.ID, Priority: p, Time: now,
		Message: "dispatch to " + describeLocation(call.Location),
		Fields:  fields,
	})
	if call.Priority.Tier() >= m.cfg.TrafficAlertPriority.Tier() && !call.TrafficAlertSent {
		m.sendTrafficAlert(ctx, &out, amb)
	}
	return out
}

func (m *Manager) sendTrafficAlert(ctx context.Context, out *Outcome, amb model.Ambulance) {
	call := out.Call
	m.notify(ctx, notify.Notification{
		Kind: notify.KindTraffic, CallID: call.ID, AmbulanceID: amb.ID, Priority: string(call.Priority),
		Message: "clear route for " + amb.VehicleNumber + " to " + describeLocation(call.Location),
		Fields:  map[string]string{"vehicle_number": amb.VehicleNumber},
	})
	sent := true
	updated, err := m.calls.Annotate(ctx, call.ID, callstore.Patch{TrafficAlertSent: &sent}, m.now())
	if err != nil {
		m.unexpected("traffic alert flag", err)
		return
	}
	out.Call = updated
}

func describeLocation(l model.Location) string {
	if l.Address != "" {
		return l.Address
	}
	return l.Coordinates.String()
}

// enqueue places a pending call in the queue and reports its position.
func (m *Manager) enqueue(ctx context.Context, call model.EmergencyCall) Outcome {
	e := queue.NewEntry(call)
	added := m.queue.Push(e)
	pos, _ := m.queue.Position(call.ID)
	queueLength.Set(float64(m.queue.Len()))
	if added {
		m.publish(events.QueuedEvent{CallID: call.ID, Tier: e.Tier, Position: pos, Time: m.now()})
		m.log.Infof("no ambulance for call %s (%s), queued at position %d", call.ID, call.Priority, pos)
		m.audit(ctx, logging.LogRecord{
			Action: logging.ActionQueued, CallID: call.ID, Priority: string(call.Priority),
			Detail: "queue position " + strconv.Itoa(pos),
		})
	}
	return Outcome{Call: call, QueuePosition: pos}
}

// requestDrain asks the Run loop for a drain pass without blocking.
func (m *Manager) requestDrain() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Drain dispatches queued calls head first until the queue is empty or the
// head cannot be matched, in which case it stays at the head. Concurrent
// callers coalesce into the running pass. It returns the number of calls
// dispatched.
func (m *Manager) Drain(ctx context.Context) (int, error) {
	m.drainAgain.Store(true)
	total := 0
	for m.drainAgain.Load() {
		if !m.drainMu.TryLock() {
			return total, nil
		}
		m.drainAgain.Store(false)
		n, err := m.drainOnce(ctx)
		m.drainMu.Unlock()
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (m *Manager) drainOnce(ctx context.Context) (int, error) {
	n := 0
	defer func() { queueLength.Set(float64(m.queue.Len())) }()
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e, ok := m.queue.Pop()
		if !ok {
			return n, nil
		}
		call, err := m.calls.Get(ctx, e.CallID)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			m.queue.Push(e)
			m.unexpected("drain get", err)
			return n, err
		}
		if call.Status != model.CallPending {
			continue
		}
		out, err := m.assign(ctx, call)
		if err != nil {
			if out.Call.Status == model.CallPending {
				m.queue.Push(e)
			}
			return n, err
		}
		if out.Dispatched() {
			n++
			continue
		}
		if out.Call.Status == model.CallPending {
			m.queue.Push(e)
			return n, nil
		}
	}
}

// Escalate promotes long-waiting calls and alerts operators about overdue
// critical ones.
func (m *Manager) Escalate(ctx context.Context) []events.EscalationEvent {
	evs := m.queue.Escalate(m.now())
	for _, ev := range evs {
		escalations.WithLabelValues(string(ev.Kind)).Inc()
		m.publish(ev)
		m.audit(ctx, logging.LogRecord{
			Timestamp: ev.Time, Action: logging.ActionEscalated, CallID: ev.CallID,
			From: ev.From.String(), To: ev.To.String(), Detail: string(ev.Kind) + " after " + ev.Waited.Round(time.Second).String(),
		})
		switch ev.Kind {
		case events.EscalationPromoted:
			m.log.Infof("call %s promoted %s -> %s after waiting %s", ev.CallID, ev.From, ev.To, ev.Waited.Round(time.Second))
		case events.EscalationOverdue:
			m.log.Warnf("critical call %s pending for %s", ev.CallID, ev.Waited.Round(time.Second))
			m.notify(ctx, notify.Notification{
				Kind: notify.KindEscalation, CallID: ev.CallID, Priority: string(model.PriorityCritical), Time: ev.Time,
				Message: "critical call " + ev.CallID + " waiting " + ev.Waited.Round(time.Second).String() + " without an ambulance",
			})
		}
	}
	return evs
}

// Recover rebuilds the queue from the stored pending calls and resumes
// tracking of active assignments. It is meant to run once at startup.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	pending, err := m.calls.Pending(ctx)
	if err != nil {
		return 0, err
	}
	for _, c := range pending {
		m.queue.Push(queue.NewEntry(c))
	}
	queueLength.Set(float64(m.queue.Len()))
	for _, s := range []model.CallStatus{model.CallDispatched, model.CallEnRoute} {
		active, err := m.calls.List(ctx, callstore.Filter{Status: s})
		if err != nil {
			return len(pending), err
		}
		for _, c := range active {
			amb, err := m.registry.Get(ctx, c.AssignedAmbulanceID)
			if err != nil {
				m.log.Warnf("call %s references ambulance %s: %v", c.ID, c.AssignedAmbulanceID, err)
				continue
			}
			if _, err := m.tracker.Start(amb.ID, c.ID, amb.Location.Coordinates, c.Location.Coordinates, m.now()); err != nil && !errors.Is(err, tracking.ErrNoFix) {
				m.log.Debugf("not tracking %s: %v", amb.ID, err)
			}
		}
	}
	m.log.Infof("recovered %d pending calls", len(pending))
	return len(pending), nil
}

// Run escalates and drains the queue periodically and whenever a drain was
// requested, until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Escalate(ctx)
		case <-m.kick:
		}
		if _, err := m.Drain(ctx); err != nil && ctx.Err() == nil {
			m.log.Errorf("drain: %v", err)
		}
	}
}
