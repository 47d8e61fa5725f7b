package metrics

import (
	"context"
	"time"

	"github.com/aeternum-health/dispatch/core/events"
	coremetrics "github.com/aeternum-health/dispatch/core/metrics"
	"github.com/aeternum-health/dispatch/infra/logger"
	"github.com/aeternum-health/dispatch/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards escalations
// and ambulance transitions to the sinks that record them. It stops when the
// context is canceled or the bus is closed. Sink errors are logged to log,
// which may be nil.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink, log logger.Logger) {
	if bus == nil || sink == nil {
		return
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := collect(sink, ev); err != nil {
					log.Errorf("metrics error: %v", err)
				}
			}
		}
	}()
}

func collect(sink coremetrics.MetricsSink, ev eventbus.Event) error {
	switch e := ev.(type) {
	case events.EscalationEvent:
		if r, ok := sink.(coremetrics.EscalationRecorder); ok {
			return r.RecordEscalation(coremetrics.EscalationRecord{
				CallID: e.CallID, Kind: string(e.Kind), From: e.From, To: e.To, Waited: e.Waited, Time: e.Time,
			})
		}
	case events.AmbulanceEvent:
		if e.From == "" || e.From == e.Ambulance.Status {
			return nil
		}
		if r, ok := sink.(coremetrics.StatusRecorder); ok {
			return r.RecordStatus(coremetrics.StatusEvent{
				AmbulanceID: e.Ambulance.ID, From: e.From, To: e.Ambulance.Status, Time: e.Time,
			})
		}
	}
	return nil
}

// Lengther reports a queue length.
type Lengther interface {
	Len() int
}

// StartQueueSampler records the length of q every interval until ctx is
// canceled. Sinks without a QueueRecorder are left alone.
func StartQueueSampler(ctx context.Context, q Lengther, sink coremetrics.MetricsSink, interval time.Duration, log logger.Logger) {
	r, ok := sink.(coremetrics.QueueRecorder)
	if !ok || q == nil || interval <= 0 {
		return
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if err := r.RecordQueue(coremetrics.QueueSnapshot{Length: q.Len(), Time: now}); err != nil {
					log.Errorf("metrics error: %v", err)
				}
			}
		}
	}()
}
