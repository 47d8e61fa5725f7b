package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch/logging"
	"github.com/aeternum-health/dispatch/core/events"
	"github.com/aeternum-health/dispatch/core/lifecycle"
	"github.com/aeternum-health/dispatch/core/metrics"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/monitoring"
	"github.com/aeternum-health/dispatch/core/notify"
	"github.com/aeternum-health/dispatch/core/queue"
	"github.com/aeternum-health/dispatch/core/registry"
)

// CallUpdate is a field update of a call. Nil fields are left unchanged.
type CallUpdate struct {
	Status *model.CallStatus
	// AmbulanceID picks the ambulance for a manual dispatch. Empty lets the
	// matcher choose.
	AmbulanceID      string
	Notes            *string
	TrafficAlertSent *bool
}

// AmbulanceUpdate is a field update sent by a crew. Nil fields are left
// unchanged.
type AmbulanceUpdate struct {
	Status   *model.AmbulanceStatus
	Location *model.Coordinates
	// At is the time of the location fix; zero means now.
	At time.Time
}

// Describe returns a call with its live assignment or queue position.
func (m *Manager) Describe(ctx context.Context, id string) (Outcome, error) {
	call, err := m.calls.Get(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	return m.outcomeOf(ctx, call), nil
}

// Register adds an ambulance to the fleet and lets it pick up queued calls.
func (m *Manager) Register(ctx context.Context, amb model.Ambulance) (model.Ambulance, error) {
	created, err := m.registry.Register(ctx, amb)
	if err != nil {
		m.unexpected("register ambulance", err)
		return model.Ambulance{}, err
	}
	m.publish(events.AmbulanceEvent{Ambulance: created, Time: created.UpdatedAt})
	m.audit(ctx, logging.LogRecord{
		Action: logging.ActionTransition, AmbulanceID: created.ID, To: string(created.Status), Detail: "registered",
	})
	m.log.Infof("ambulance %s (%s) registered", created.ID, created.VehicleNumber)
	m.afterAvailable(ctx)
	return created, nil
}

// UpdateCall applies a field update to a call. Status changes follow the
// call lifecycle and drag the assigned ambulance along.
func (m *Manager) UpdateCall(ctx context.Context, id string, u CallUpdate) (Outcome, error) {
	if u.Status != nil && !u.Status.Valid() {
		return Outcome{}, &model.ValidationError{Field: "status", Reason: "unknown call status " + string(*u.Status)}
	}
	if u.Status != nil {
		cur, err := m.calls.Get(ctx, id)
		if err != nil {
			return Outcome{}, err
		}
		if *u.Status != cur.Status {
			if err := m.changeCall(ctx, cur, *u.Status, u.AmbulanceID); err != nil {
				return Outcome{}, m.rejected(ctx, err)
			}
		}
	}
	if u.Notes != nil || u.TrafficAlertSent != nil {
		if _, err := m.calls.Annotate(ctx, id, callstore.Patch{Notes: u.Notes, TrafficAlertSent: u.TrafficAlertSent}, m.now()); err != nil {
			return Outcome{}, err
		}
	}
	return m.Describe(ctx, id)
}

func (m *Manager) changeCall(ctx context.Context, cur model.EmergencyCall, to model.CallStatus, ambulanceID string) error {
	if err := lifecycle.CheckCall(cur.ID, cur.Status, to); err != nil {
		return err
	}
	switch to {
	case model.CallDispatched:
		return m.manualDispatch(ctx, cur, ambulanceID)
	case model.CallEnRoute:
		if _, err := m.moveCall(ctx, cur.ID, to, m.now()); err != nil {
			return err
		}
		m.follow(ctx, cur.AssignedAmbulanceID, cur.ID, model.AmbulanceEnRoute)
		return nil
	case model.CallArrived:
		return m.Arrive(ctx, cur.AssignedAmbulanceID, cur.ID, m.now())
	case model.CallCompleted:
		return m.complete(ctx, cur)
	case model.CallCancelled:
		return m.cancel(ctx, cur)
	}
	return &model.InvalidTransitionError{Entity: "call", ID: cur.ID, From: string(cur.Status), To: string(to)}
}

// manualDispatch binds a pending call to a chosen ambulance, or runs the
// matcher when none was chosen.
func (m *Manager) manualDispatch(ctx context.Context, cur model.EmergencyCall, ambulanceID string) error {
	if ambulanceID == "" {
		_, err := m.Match(ctx, cur.ID)
		return err
	}
	amb, err := m.registry.Reserve(ctx, ambulanceID, cur.ID)
	if errors.Is(err, model.ErrNoCapacity) {
		return fmt.Errorf("ambulance %s is not available: %w", ambulanceID, model.ErrConflict)
	}
	if err != nil {
		return err
	}
	ch, err := m.calls.Assign(ctx, cur.ID, amb.ID, m.now())
	if err != nil {
		if _, uerr := m.registry.Unreserve(ctx, amb.ID, cur.ID); uerr != nil {
			m.unexpected("unreserve", uerr)
		}
		m.afterAvailable(ctx)
		return err
	}
	m.dispatched(ctx, ch.Before, ch.After, amb, distance(ch.After, amb))
	return nil
}

// Arrive records that ambulanceID reached the scene of callID. It is used by
// the tracker on automatic detection and by crews reporting manually.
func (m *Manager) Arrive(ctx context.Context, ambulanceID, callID string, at time.Time) error {
	amb, err := m.registry.Get(ctx, ambulanceID)
	if err != nil {
		return err
	}
	if amb.Status != model.AmbulanceEnRoute || amb.CurrentCallID != callID {
		return &model.InvalidTransitionError{Entity: "ambulance", ID: ambulanceID, From: string(amb.Status), To: string(model.AmbulanceAtScene)}
	}
	if _, err := m.moveAmbulance(ctx, ambulanceID, model.AmbulanceAtScene); err != nil {
		return err
	}
	ch, err := m.moveCall(ctx, callID, model.CallArrived, at)
	if err != nil {
		m.outOfStep(callID, ambulanceID, err)
		m.abandon(ctx, ambulanceID, callID)
		return nil
	}
	m.tracker.Stop(ambulanceID)
	response := ch.After.Timestamps.Arrived.Sub(ch.After.Timestamps.Dispatched)
	m.publish(events.ArrivalEvent{AmbulanceID: ambulanceID, CallID: callID, Response: response, Time: ch.After.Timestamps.Arrived})
	if r, ok := m.metrics.(metrics.ArrivalRecorder); ok {
		if err := r.RecordArrival(metrics.ArrivalRecord{CallID: callID, AmbulanceID: ambulanceID, Response: response, Time: at}); err != nil {
			m.log.Errorf("metrics error: %v", err)
		}
	}
	m.log.Infof("ambulance %s arrived at call %s after %s", ambulanceID, callID, response.Round(time.Second))
	return nil
}

// complete closes an arrived call and returns its ambulance to service.
func (m *Manager) complete(ctx context.Context, cur model.EmergencyCall) error {
	ch, err := m.moveCall(ctx, cur.ID, model.CallCompleted, m.now())
	if err != nil {
		return err
	}
	ambID := ch.Before.AssignedAmbulanceID
	amb, err := m.registry.Get(ctx, ambID)
	if err != nil || amb.CurrentCallID != cur.ID {
		return nil
	}
	if amb.Status == model.AmbulanceAtScene {
		if _, err := m.moveAmbulance(ctx, ambID, model.AmbulanceReturning); err != nil {
			m.outOfStep(cur.ID, ambID, err)
			return nil
		}
	}
	if _, err := m.release(ctx, ambID); err != nil {
		m.outOfStep(cur.ID, ambID, err)
	}
	return nil
}

// cancel cancels a call. An assigned ambulance is recalled and released,
// which drains the queue.
func (m *Manager) cancel(ctx context.Context, cur model.EmergencyCall) error {
	ch, err := m.moveCall(ctx, cur.ID, model.CallCancelled, m.now())
	if err != nil {
		return err
	}
	if ch.Before.Status == model.CallPending {
		m.queue.Remove(cur.ID)
		queueLength.Set(float64(m.queue.Len()))
		return nil
	}
	ambID := ch.Before.AssignedAmbulanceID
	m.tracker.Stop(ambID)
	m.notify(ctx, notify.Notification{
		Kind: notify.KindCancel, CallID: cur.ID, AmbulanceID: ambID, Priority: string(cur.Priority),
		Message: "call " + cur.ID + " cancelled, return to base",
	})
	if _, err := m.recall(ctx, ambID, cur.ID); err != nil {
		if !errors.Is(err, model.ErrInvalidTransition) {
			m.outOfStep(cur.ID, ambID, err)
		}
		return nil
	}
	if _, err := m.release(ctx, ambID); err != nil {
		m.outOfStep(cur.ID, ambID, err)
	}
	return nil
}

// abandon recovers an ambulance that reached the scene of a call which was
// cancelled, completed or reassigned meanwhile. It is sent back and released
// unless the call still holds it.
func (m *Manager) abandon(ctx context.Context, ambulanceID, callID string) {
	call, err := m.calls.Get(ctx, callID)
	if err == nil && call.Status.HoldsAmbulance() && call.AssignedAmbulanceID == ambulanceID {
		return
	}
	ch, err := m.recall(ctx, ambulanceID, callID)
	if err != nil {
		if !errors.Is(err, model.ErrInvalidTransition) {
			m.outOfStep(callID, ambulanceID, err)
		}
		return
	}
	m.tracker.Stop(ambulanceID)
	if ch.Before.Status == model.AmbulanceReturning {
		// Someone else recalled it and owns the release.
		return
	}
	if _, err := m.release(ctx, ambulanceID); err != nil {
		m.outOfStep(callID, ambulanceID, err)
	}
}

// UpdateAmbulance applies a crew update: a location fix, a status change, or
// both. A location fix is applied first and may itself trigger arrival.
func (m *Manager) UpdateAmbulance(ctx context.Context, id string, u AmbulanceUpdate) (model.Ambulance, error) {
	if u.Status != nil && !u.Status.Valid() {
		return model.Ambulance{}, &model.ValidationError{Field: "status", Reason: "unknown ambulance status " + string(*u.Status)}
	}
	if u.Location != nil {
		if _, err := m.UpdateLocation(ctx, id, *u.Location, u.At); err != nil {
			return model.Ambulance{}, err
		}
	}
	if u.Status != nil {
		cur, err := m.registry.Get(ctx, id)
		if err != nil {
			return model.Ambulance{}, err
		}
		if *u.Status != cur.Status {
			if err := m.changeAmbulance(ctx, cur, *u.Status); err != nil {
				return model.Ambulance{}, m.rejected(ctx, err)
			}
		}
	}
	return m.registry.Get(ctx, id)
}

// UpdateLocation stores a position fix and feeds the tracker.
func (m *Manager) UpdateLocation(ctx context.Context, id string, c model.Coordinates, at time.Time) (model.Ambulance, error) {
	if at.IsZero() {
		at = m.now()
	}
	amb, err := m.registry.UpdateLocation(ctx, id, c, at)
	if err != nil {
		return model.Ambulance{}, err
	}
	if r, ok := m.metrics.(metrics.PositionRecorder); ok {
		if err := r.RecordPosition(metrics.PositionEvent{AmbulanceID: id, Status: amb.Status, Coordinates: c, Time: at}); err != nil {
			m.log.Errorf("metrics error: %v", err)
		}
	}
	m.tracker.OnLocation(ctx, id, c, at)
	return amb, nil
}

func (m *Manager) changeAmbulance(ctx context.Context, cur model.Ambulance, to model.AmbulanceStatus) error {
	invalid := &model.InvalidTransitionError{Entity: "ambulance", ID: cur.ID, From: string(cur.Status), To: string(to)}
	switch to {
	case model.AmbulanceDispatched:
		return invalid
	case model.AmbulanceEnRoute:
		if _, err := m.moveAmbulance(ctx, cur.ID, to); err != nil {
			return err
		}
		if _, err := m.moveCall(ctx, cur.CurrentCallID, model.CallEnRoute, m.now()); err != nil {
			m.outOfStep(cur.CurrentCallID, cur.ID, err)
		}
		return nil
	case model.AmbulanceAtScene:
		return m.Arrive(ctx, cur.ID, cur.CurrentCallID, m.now())
	case model.AmbulanceReturning:
		// Recall from dispatched or en_route belongs to call cancellation.
		if cur.Status != model.AmbulanceAtScene {
			return invalid
		}
		_, err := m.moveAmbulance(ctx, cur.ID, to)
		return err
	case model.AmbulanceAvailable:
		if cur.Status == model.AmbulanceReturning {
			_, err := m.release(ctx, cur.ID)
			return err
		}
		if _, err := m.moveAmbulance(ctx, cur.ID, to); err != nil {
			return err
		}
		m.afterAvailable(ctx)
		return nil
	case model.AmbulanceOutOfService:
		return m.withdraw(ctx, cur.ID)
	default:
		_, err := m.moveAmbulance(ctx, cur.ID, to)
		return err
	}
}

// withdraw takes an ambulance out of service. A call it was serving goes
// back to pending and is queued again.
func (m *Manager) withdraw(ctx context.Context, id string) error {
	ach, err := m.moveAmbulance(ctx, id, model.AmbulanceOutOfService)
	if err != nil {
		return err
	}
	m.tracker.Stop(id)
	callID := ach.Before.CurrentCallID
	if callID == "" {
		return nil
	}
	now := m.now()
	ch, err := m.calls.Requeue(ctx, callID, id, now)
	if err != nil {
		if !errors.Is(err, model.ErrInvalidTransition) {
			m.outOfStep(callID, id, err)
		}
		return nil
	}
	m.callChanged(ch)
	m.publish(events.RequeueEvent{CallID: callID, AmbulanceID: id, From: ch.Before.Status, Time: now})
	m.audit(ctx, logging.LogRecord{
		Timestamp: now, Action: logging.ActionRequeued, CallID: callID, AmbulanceID: id,
		Priority: string(ch.After.Priority), From: string(ch.Before.Status), To: string(ch.After.Status),
	})
	m.log.Warnf("ambulance %s withdrawn, call %s back to pending", id, callID)
	m.notify(ctx, notify.Notification{
		Kind: notify.KindRequeue, CallID: callID, AmbulanceID: id, Priority: string(ch.After.Priority), Time: now,
		Message: "ambulance " + id + " withdrawn from call " + callID + ", call requeued",
	})
	m.queue.Push(queue.NewEntry(ch.After))
	queueLength.Set(float64(m.queue.Len()))
	if _, err := m.Drain(ctx); err != nil {
		m.log.Errorf("drain: %v", err)
	}
	return nil
}

// release returns a returning ambulance to service, completes the arrived
// call it was still holding and drains the queue.
func (m *Manager) release(ctx context.Context, id string) (registry.Change, error) {
	ch, err := m.registry.Release(ctx, id)
	if err != nil {
		return ch, err
	}
	m.ambulanceChanged(ch)
	m.audit(ctx, logging.LogRecord{
		Action: logging.ActionTransition, AmbulanceID: id, CallID: ch.Before.CurrentCallID,
		From: string(ch.Before.Status), To: string(ch.After.Status),
	})
	m.tracker.Stop(id)
	if callID := ch.Before.CurrentCallID; callID != "" {
		if call, err := m.calls.Get(ctx, callID); err == nil && call.Status == model.CallArrived {
			if _, err := m.moveCall(ctx, callID, model.CallCompleted, m.now()); err != nil {
				m.outOfStep(callID, id, err)
			}
		}
	}
	m.afterAvailable(ctx)
	return ch, nil
}

func (m *Manager) afterAvailable(ctx context.Context) {
	if _, err := m.Drain(ctx); err != nil {
		m.log.Errorf("drain: %v", err)
	}
}

// follow moves the ambulance of a call along with it. A mismatch is logged.
func (m *Manager) follow(ctx context.Context, ambulanceID, callID string, to model.AmbulanceStatus) {
	amb, err := m.registry.Get(ctx, ambulanceID)
	if err != nil || amb.CurrentCallID != callID {
		m.outOfStep(callID, ambulanceID, fmt.Errorf("ambulance no longer holds the call"))
		return
	}
	if _, err := m.moveAmbulance(ctx, ambulanceID, to); err != nil {
		m.outOfStep(callID, ambulanceID, err)
	}
}

func (m *Manager) moveCall(ctx context.Context, id string, to model.CallStatus, at time.Time) (callstore.Change, error) {
	ch, err := m.calls.Transition(ctx, id, to, at)
	if err != nil {
		return ch, err
	}
	m.callChanged(ch)
	action := logging.ActionTransition
	switch to {
	case model.CallCancelled:
		action = logging.ActionCancelled
	case model.CallCompleted:
		action = logging.ActionCompleted
	}
	m.audit(ctx, logging.LogRecord{
		Timestamp: at, Action: action, CallID: id, AmbulanceID: ch.Before.AssignedAmbulanceID,
		Priority: string(ch.After.Priority), From: string(ch.Before.Status), To: string(to),
	})
	return ch, nil
}

// recall sends an ambulance bound to callID back to base.
func (m *Manager) recall(ctx context.Context, id, callID string) (registry.Change, error) {
	ch, err := m.registry.Recall(ctx, id, callID)
	if err != nil {
		return ch, err
	}
	if ch.Before.Status != ch.After.Status {
		m.ambulanceChanged(ch)
		m.audit(ctx, logging.LogRecord{
			Action: logging.ActionTransition, AmbulanceID: id, CallID: callID,
			From: string(ch.Before.Status), To: string(ch.After.Status), Detail: "recalled",
		})
	}
	return ch, nil
}

func (m *Manager) moveAmbulance(ctx context.Context, id string, to model.AmbulanceStatus) (registry.Change, error) {
	ch, err := m.registry.Transition(ctx, id, to)
	if err != nil {
		return ch, err
	}
	m.ambulanceChanged(ch)
	m.audit(ctx, logging.LogRecord{
		Action: logging.ActionTransition, AmbulanceID: id, CallID: ch.Before.CurrentCallID,
		From: string(ch.Before.Status), To: string(to),
	})
	return ch, nil
}

// outOfStep reports a call and ambulance whose coupled transition only half
// applied, usually because a concurrent update won the race.
func (m *Manager) outOfStep(callID, ambulanceID string, err error) {
	m.log.Warnf("call %s and ambulance %s out of step: %v", callID, ambulanceID, err)
	if !errors.Is(err, model.ErrInvalidTransition) {
		monitoring.Report("dispatch", err, "call_id", callID, "ambulance_id", ambulanceID)
	}
}
