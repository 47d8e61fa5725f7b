package config

import (
	"fmt"
	"strings"

	coremqtt "github.com/aeternum-health/dispatch/core/mqtt"
)

// TelemetryConfig holds configuration for the ambulance location feed.
type TelemetryConfig struct {
	Enabled bool `json:"enabled"`
	// Topic is the filter the feed subscribes to. The ambulance id is read
	// from the second topic level unless the payload carries one.
	Topic string `json:"topic"`
	// BufferSize bounds the fixes waiting for the worker; newer fixes are
	// dropped when it is full.
	BufferSize int `json:"buffer_size"`
	// MaxLagSeconds drops fixes older than this on arrival. Zero keeps all.
	MaxLagSeconds int `json:"max_lag_seconds"`
}

func (c TelemetryConfig) Filter() string {
	if c.Topic == "" {
		return coremqtt.LocationFilter
	}
	return c.Topic
}

func (c TelemetryConfig) Buffer() int {
	if c.BufferSize <= 0 {
		return 256
	}
	return c.BufferSize
}

// Validate rejects filters that cannot carry an ambulance id.
func (c TelemetryConfig) Validate() error {
	if c.MaxLagSeconds < 0 {
		return fmt.Errorf("telemetry: max_lag_seconds must not be negative")
	}
	if c.Topic != "" && strings.Count(c.Topic, "/") < 2 {
		return fmt.Errorf("telemetry: topic %q must look like ambulance/+/location", c.Topic)
	}
	return nil
}
