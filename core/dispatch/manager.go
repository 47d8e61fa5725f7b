package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch/logging"
	"github.com/aeternum-health/dispatch/core/events"
	"github.com/aeternum-health/dispatch/core/geocode"
	"github.com/aeternum-health/dispatch/core/logger"
	"github.com/aeternum-health/dispatch/core/metrics"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/monitoring"
	"github.com/aeternum-health/dispatch/core/notify"
	"github.com/aeternum-health/dispatch/core/queue"
	"github.com/aeternum-health/dispatch/core/registry"
	"github.com/aeternum-health/dispatch/core/tracking"
	"github.com/aeternum-health/dispatch/internal/eventbus"
)

// Deps are the collaborators of a Manager. Registry and Calls are required;
// every other field has a working default.
type Deps struct {
	Registry registry.Registry
	Calls    callstore.Store
	Queue    *queue.Queue
	Ranker   Ranker
	Tracker  *tracking.Tracker
	Notifier notify.Notifier
	Geocoder geocode.Geocoder
	Bus      eventbus.EventBus
	Logs     logging.LogStore
	Metrics  metrics.MetricsSink
	Logger   logger.Logger
	Clock    func() time.Time
	NewID    func() string
}

// Manager binds calls to ambulances. It holds no lock over the stores:
// mutual exclusion rests on Registry.Reserve and the call store's guarded
// transitions.
type Manager struct {
	cfg      Config
	registry registry.Registry
	calls    callstore.Store
	queue    *queue.Queue
	ranker   Ranker
	tracker  *tracking.Tracker
	notifier notify.Notifier
	geocoder geocode.Geocoder
	bus      eventbus.EventBus
	logs     logging.LogStore
	metrics  metrics.MetricsSink
	log      logger.Logger
	now      func() time.Time
	newID    func() string

	drainMu    sync.Mutex
	drainAgain atomic.Bool
	kick       chan struct{}
}

// NewManager wires a manager from cfg and deps.
func NewManager(cfg Config, d Deps) (*Manager, error) {
	if d.Registry == nil || d.Calls == nil {
		return nil, fmt.Errorf("dispatch: registry and call store are required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		registry: d.Registry,
		calls:    d.Calls,
		queue:    d.Queue,
		ranker:   d.Ranker,
		tracker:  d.Tracker,
		notifier: d.Notifier,
		geocoder: d.Geocoder,
		bus:      d.Bus,
		logs:     d.Logs,
		metrics:  d.Metrics,
		log:      logger.OrNop(d.Logger),
		now:      d.Clock,
		newID:    d.NewID,
		kick:     make(chan struct{}, 1),
	}
	if m.queue == nil {
		m.queue = queue.New(cfg.EscalationThreshold)
	}
	if m.ranker == nil {
		r, err := NewRanker(cfg.Ranker)
		if err != nil {
			return nil, fmt.Errorf("dispatch: ranker: %w", err)
		}
		m.ranker = r
	}
	if m.tracker == nil {
		m.tracker = tracking.NewTracker(cfg.Tracking(), m.bus, m.log)
	}
	if m.notifier == nil {
		m.notifier = notify.LogNotifier{Log: m.log}
	}
	if m.logs == nil {
		m.logs = logging.NopStore{}
	}
	if m.metrics == nil {
		m.metrics = metrics.NopSink{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = newCallID
	}
	m.tracker.OnArrival(m.Arrive)
	return m, nil
}

// Queue exposes the pending queue for read-only views.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// Tracker exposes the ETA tracker.
func (m *Manager) Tracker() *tracking.Tracker { return m.tracker }

// Registry exposes the ambulance registry.
func (m *Manager) Registry() registry.Registry { return m.registry }

// Calls exposes the call store.
func (m *Manager) Calls() callstore.Store { return m.calls }

// Close releases resources held by the manager.
func (m *Manager) Close() error {
	if m.logs != nil {
		return m.logs.Close()
	}
	return nil
}

func (m *Manager) publish(ev eventbus.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// audit appends rec to the dispatch log. Failures are reported but never
// fail the operation that produced the record.
func (m *Manager) audit(ctx context.Context, rec logging.LogRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	if err := m.logs.Append(ctx, rec); err != nil {
		m.log.Errorf("dispatch log append: %v", err)
		monitoring.Report("dispatch", err, "action", string(rec.Action))
	}
}

func (m *Manager) notify(ctx context.Context, n notify.Notification) {
	if n.Time.IsZero() {
		n.Time = m.now()
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		m.log.Errorf("notify %s for %s: %v", n.Kind, n.CallID, err)
		monitoring.Report("notify", err, "kind", string(n.Kind), "call_id", n.CallID)
	}
}

// rejected logs an invalid transition and counts it.
func (m *Manager) rejected(ctx context.Context, err error) error {
	var ite *model.InvalidTransitionError
	if errors.As(err, &ite) {
		invalidTransitions.WithLabelValues(ite.Entity).Inc()
		m.log.Warnf("rejected %v", err)
		rec := logging.LogRecord{Action: logging.ActionRejected, From: ite.From, To: ite.To, Detail: err.Error()}
		if ite.Entity == "call" {
			rec.CallID = ite.ID
		} else {
			rec.AmbulanceID = ite.ID
		}
		m.audit(ctx, rec)
	}
	return err
}

// unexpected reports storage failures that are neither validation errors nor
// rejected transitions.
func (m *Manager) unexpected(op string, err error) {
	if err == nil || errors.Is(err, model.ErrValidation) || errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrNoCapacity) ||
		errors.Is(err, model.ErrConflict) {
		return
	}
	m.log.Errorf("%s: %v", op, err)
	monitoring.Report("dispatch", err, "op", op)
}

func (m *Manager) callChanged(ch callstore.Change) {
	m.publish(events.CallEvent{Call: ch.After, From: ch.Before.Status, Time: ch.After.UpdatedAt})
}

func (m *Manager) ambulanceChanged(ch registry.Change) {
	m.publish(events.AmbulanceEvent{Ambulance: ch.After, From: ch.Before.Status, Time: ch.After.UpdatedAt})
}
