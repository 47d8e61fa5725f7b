// Package simulator drives simulated ambulance crews over the broker: crews
// acknowledge dispatch orders, report position fixes while driving to the
// scene and return to service after a stay at the scene.
package simulator

import (
	"fmt"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	SpeedKmh float64 `json:"speed_kmh" yaml:"speed_kmh"`
	// Interval is the period between position fixes.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// TimeScale multiplies the distance covered per interval.
	TimeScale float64 `json:"time_scale" yaml:"time_scale"`
	// SceneTime is spent at the scene before the crew reports returning.
	SceneTime time.Duration `json:"scene_time" yaml:"scene_time"`
	// ReturnTime is spent returning before the crew reports available.
	ReturnTime time.Duration `json:"return_time" yaml:"return_time"`
	AckLatency time.Duration `json:"ack_latency" yaml:"ack_latency"`
	DropRate   float64       `json:"drop_rate" yaml:"drop_rate"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.SpeedKmh <= 0 {
		c.SpeedKmh = 40
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.TimeScale <= 0 {
		c.TimeScale = 1
	}
}

// Validate checks the settings after defaults were applied.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("drop rate must be within [0,1]")
	}
	if c.SceneTime < 0 || c.ReturnTime < 0 || c.AckLatency < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// stepKm is the distance covered between two fixes.
func (c Config) stepKm() float64 {
	return c.SpeedKmh * c.Interval.Hours() * c.TimeScale
}
