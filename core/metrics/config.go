package metrics

import "github.com/aeternum-health/dispatch/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" yaml:"sinks"`
	// PrometheusAddr exposes /metrics when set, e.g. ":9090".
	PrometheusAddr string `json:"prometheus_addr" yaml:"prometheus_addr"`
}
