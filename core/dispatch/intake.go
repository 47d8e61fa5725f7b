package dispatch

import (
	"context"

	"github.com/google/uuid"

	"github.com/aeternum-health/dispatch/core/dispatch/logging"
	"github.com/aeternum-health/dispatch/core/events"
	"github.com/aeternum-health/dispatch/core/geocode"
	"github.com/aeternum-health/dispatch/core/model"
)

func newCallID() string { return uuid.NewString() }

// Submit validates an intake request, stores the call and matches it. The
// call is either dispatched or pending in the queue; running out of
// ambulances is not an error. Malformed requests return a ValidationError
// before anything is stored.
func (m *Manager) Submit(ctx context.Context, req model.CallRequest) (Outcome, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}
	loc := req.Location
	if m.geocoder != nil {
		if err := geocode.Resolve(ctx, m.geocoder, &loc); err != nil {
			return Outcome{}, err
		}
	}
	now := m.now()
	call, err := m.calls.Create(ctx, model.EmergencyCall{
		ID:            m.newID(),
		HospitalID:    req.HospitalID,
		PatientName:   req.PatientName,
		ContactNumber: req.ContactNumber,
		Location:      loc,
		Type:          req.Type,
		Priority:      req.Priority,
		Status:        model.CallPending,
		Description:   req.Description,
		Notes:         req.Notes,
		Timestamps:    model.CallTimestamps{Received: now},
	})
	if err != nil {
		m.unexpected("create call", err)
		return Outcome{}, err
	}
	callsReceived.WithLabelValues(string(call.Priority)).Inc()
	m.publish(events.CallEvent{Call: call, Time: now})
	m.audit(ctx, logging.LogRecord{
		Timestamp: now, Action: logging.ActionSubmitted, CallID: call.ID,
		Priority: string(call.Priority), To: string(call.Status), Detail: string(call.Type),
	})
	m.log.Infof("call %s received (%s, %s)", call.ID, call.Type, call.Priority)
	return m.Match(ctx, call.ID)
}
