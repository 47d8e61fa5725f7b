// Package telemetry consumes ambulance location fixes from the broker and
// applies them to the dispatch coordinator.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeternum-health/dispatch/config"
	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/logger"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/monitoring"
	coremqtt "github.com/aeternum-health/dispatch/core/mqtt"
)

// Updater applies a field update to an ambulance.
type Updater interface {
	UpdateAmbulance(ctx context.Context, id string, u dispatch.AmbulanceUpdate) (model.Ambulance, error)
}

// Fix is one decoded location message.
type Fix struct {
	AmbulanceID string
	Update      dispatch.AmbulanceUpdate
	Received    time.Time
}

// locationMessage is the payload published by the vehicles.
//
//	{"lat": 28.61, "lng": 77.20, "timestamp": 1714557600000, "status": "en_route"}
//
// timestamp is in unix milliseconds; status is optional.
type locationMessage struct {
	AmbulanceID string   `json:"ambulance_id"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Status      string   `json:"status"`
	Timestamp   *int64   `json:"timestamp"`
}

// Feed subscribes to location topics and hands fixes to a single worker so
// the broker callback never waits on dispatch.
type Feed struct {
	cfg config.TelemetryConfig
	sub coremqtt.Subscriber
	up  Updater
	log logger.Logger
	now func() time.Time

	fixes chan Fix

	results   *prometheus.CounterVec
	lag       prometheus.Histogram
	lastApply prometheus.Gauge
}

// NewFeed prepares a feed. Collectors are registered on reg when it is not nil.
func NewFeed(cfg config.TelemetryConfig, sub coremqtt.Subscriber, up Updater, log logger.Logger, reg prometheus.Registerer) (*Feed, error) {
	f := &Feed{
		cfg:   cfg,
		sub:   sub,
		up:    up,
		log:   logger.OrNop(log),
		now:   time.Now,
		fixes: make(chan Fix, cfg.Buffer()),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_fixes_total",
			Help: "Location fixes received, by outcome",
		}, []string{"result"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_fix_lag_seconds",
			Help:    "Delay between a fix being taken and being applied",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		lastApply: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_last_fix_timestamp_seconds",
			Help: "Unix timestamp of the last applied fix",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{f.results, f.lag, f.lastApply} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("telemetry: register collector: %w", err)
			}
		}
	}
	return f, nil
}

// Start subscribes and runs the worker until ctx is done.
func (f *Feed) Start(ctx context.Context) error {
	if err := f.sub.Subscribe(f.cfg.Filter(), f.onMessage); err != nil {
		return fmt.Errorf("telemetry: subscribe %s: %w", f.cfg.Filter(), err)
	}
	f.log.Infof("listening for ambulance locations on %s", f.cfg.Filter())
	go f.run(ctx)
	return nil
}

func (f *Feed) onMessage(topic string, payload []byte) {
	fix, err := decode(topic, payload, f.now())
	if err != nil {
		f.results.WithLabelValues("invalid").Inc()
		f.log.Warnf("discarding fix on %s: %v", topic, err)
		return
	}
	if max := f.cfg.MaxLagSeconds; max > 0 && fix.Received.Sub(fix.Update.At) > time.Duration(max)*time.Second {
		f.results.WithLabelValues("stale").Inc()
		return
	}
	select {
	case f.fixes <- fix:
	default:
		f.results.WithLabelValues("dropped").Inc()
		f.log.Warnf("location buffer full, dropping fix for %s", fix.AmbulanceID)
	}
}

func (f *Feed) run(ctx context.Context) {
	defer monitoring.Recover()
	for {
		select {
		case <-ctx.Done():
			return
		case fix := <-f.fixes:
			f.apply(ctx, fix)
		}
	}
}

func (f *Feed) apply(ctx context.Context, fix Fix) {
	_, err := f.up.UpdateAmbulance(ctx, fix.AmbulanceID, fix.Update)
	switch {
	case err == nil:
		f.results.WithLabelValues("applied").Inc()
		now := f.now()
		f.lag.Observe(now.Sub(fix.Update.At).Seconds())
		f.lastApply.Set(float64(now.Unix()))
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrValidation):
		f.results.WithLabelValues("rejected").Inc()
		f.log.Warnf("fix for %s rejected: %v", fix.AmbulanceID, err)
	default:
		f.results.WithLabelValues("failed").Inc()
		f.log.Errorf("fix for %s failed: %v", fix.AmbulanceID, err)
		monitoring.Report("telemetry", err, "ambulance_id", fix.AmbulanceID)
	}
}

func decode(topic string, payload []byte, received time.Time) (Fix, error) {
	var msg locationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Fix{}, err
	}
	id := msg.AmbulanceID
	if id == "" {
		id = coremqtt.AmbulanceFromTopic(topic)
	}
	if id == "" {
		return Fix{}, fmt.Errorf("no ambulance id")
	}
	fix := Fix{AmbulanceID: id, Received: received}
	if msg.Lat != nil || msg.Lng != nil {
		if msg.Lat == nil || msg.Lng == nil {
			return Fix{}, fmt.Errorf("lat and lng must be sent together")
		}
		c := model.Coordinates{Lat: *msg.Lat, Lng: *msg.Lng}
		if err := c.Validate(); err != nil {
			return Fix{}, err
		}
		fix.Update.Location = &c
	}
	if msg.Status != "" {
		s := model.AmbulanceStatus(msg.Status)
		if !s.Valid() {
			return Fix{}, fmt.Errorf("unknown status %q", msg.Status)
		}
		fix.Update.Status = &s
	}
	if fix.Update.Location == nil && fix.Update.Status == nil {
		return Fix{}, fmt.Errorf("empty fix")
	}
	fix.Update.At = received
	if msg.Timestamp != nil {
		fix.Update.At = time.UnixMilli(*msg.Timestamp)
	}
	return fix, nil
}
