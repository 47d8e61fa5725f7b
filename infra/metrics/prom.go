package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/aeternum-health/dispatch/core/metrics"
)

// PromSink records dispatch decisions and fleet movements in Prometheus
// metrics. The HTTP exporter is started separately from Config.PrometheusAddr.
type PromSink struct {
	distance    *prometheus.HistogramVec
	eta         *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	response    *prometheus.HistogramVec
	positions   prometheus.Counter
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Metrics that
// are already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	s := &PromSink{}
	if s.distance, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ambulance_dispatch_distance_km",
		Help:    "Great-circle distance between the dispatched ambulance and the scene",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50},
	}, []string{"priority"})); err != nil {
		return nil, err
	}
	if s.eta, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ambulance_dispatch_eta_seconds",
		Help:    "Estimated travel time at dispatch",
		Buckets: []float64{60, 180, 300, 600, 900, 1200, 1800},
	}, []string{"priority"})); err != nil {
		return nil, err
	}
	if s.transitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ambulance_status_transitions_total",
		Help: "Committed ambulance status transitions",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}
	if s.response, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ambulance_response_seconds",
		Help:    "Time from dispatch to arrival at the scene",
		Buckets: []float64{120, 300, 480, 600, 900, 1200, 1800, 3600},
	}, []string{})); err != nil {
		return nil, err
	}
	if s.positions, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ambulance_position_updates_total",
		Help: "Location fixes accepted from the fleet",
	})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// RecordDispatch observes distance and ETA of a dispatch.
func (s *PromSink) RecordDispatch(rec coremetrics.DispatchRecord) error {
	p := string(rec.Priority)
	s.distance.WithLabelValues(p).Observe(rec.DistanceKm)
	s.eta.WithLabelValues(p).Observe(rec.ETA.Seconds())
	return nil
}

// RecordStatus counts an ambulance transition.
func (s *PromSink) RecordStatus(ev coremetrics.StatusEvent) error {
	s.transitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
	return nil
}

// RecordArrival observes the response time of an arrival.
func (s *PromSink) RecordArrival(ev coremetrics.ArrivalRecord) error {
	s.response.WithLabelValues().Observe(ev.Response.Seconds())
	return nil
}

// RecordPosition counts a location fix.
func (s *PromSink) RecordPosition(coremetrics.PositionEvent) error {
	s.positions.Inc()
	return nil
}
