package dispatch

import (
	"fmt"
	"time"

	"github.com/aeternum-health/dispatch/core/factory"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/queue"
	"github.com/aeternum-health/dispatch/core/tracking"
)

// Config defines dispatch-related settings.
type Config struct {
	// EscalationThreshold is how long a call may wait before it is promoted.
	EscalationThreshold time.Duration `json:"escalation_threshold" yaml:"escalation_threshold"`
	// DrainInterval is the period of the background escalate and drain pass.
	DrainInterval      time.Duration `json:"drain_interval" yaml:"drain_interval"`
	SpeedKmh           float64       `json:"speed_kmh" yaml:"speed_kmh"`
	ArrivalThresholdKm float64       `json:"arrival_threshold_km" yaml:"arrival_threshold_km"`
	// TrafficAlertPriority is the lowest priority that warns traffic control
	// when an ambulance is dispatched.
	TrafficAlertPriority model.Priority       `json:"traffic_alert_priority" yaml:"traffic_alert_priority"`
	Ranker               factory.ModuleConfig `json:"ranker" yaml:"ranker"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = queue.DefaultEscalationThreshold
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 15 * time.Second
	}
	if c.SpeedKmh <= 0 {
		c.SpeedKmh = tracking.DefaultSpeedKmh
	}
	if c.ArrivalThresholdKm <= 0 {
		c.ArrivalThresholdKm = tracking.DefaultArrivalThresholdKm
	}
	if c.TrafficAlertPriority == "" {
		c.TrafficAlertPriority = model.PriorityHigh
	}
	if c.Ranker.Type == "" {
		c.Ranker.Type = "nearest"
	}
}

// Validate checks the settings after defaults were applied.
func (c Config) Validate() error {
	if !c.TrafficAlertPriority.Valid() {
		return fmt.Errorf("dispatch: unknown traffic_alert_priority %q", c.TrafficAlertPriority)
	}
	if c.ArrivalThresholdKm > 5 {
		return fmt.Errorf("dispatch: arrival_threshold_km %.2f is too large", c.ArrivalThresholdKm)
	}
	return nil
}

// Tracking returns the estimator settings.
func (c Config) Tracking() tracking.Config {
	return tracking.Config{SpeedKmh: c.SpeedKmh, ArrivalThresholdKm: c.ArrivalThresholdKm}
}
