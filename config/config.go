package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/aeternum-health/dispatch/api"
	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/metrics"
	"github.com/aeternum-health/dispatch/infra/geocode"
	"github.com/aeternum-health/dispatch/infra/logger"
	"github.com/aeternum-health/dispatch/infra/monitoring"
	"github.com/aeternum-health/dispatch/infra/mqtt"
)

type Config struct {
	Dispatch  dispatch.Config   `json:"dispatch"`
	Storage   StorageConfig     `json:"storage"`
	MQTT      mqtt.Config       `json:"mqtt"`
	Telemetry TelemetryConfig   `json:"telemetry"`
	Metrics   metrics.Config    `json:"metrics"`
	Logger    logger.Config     `json:"logger"`
	Logging   LoggingConfig     `json:"logging"`
	API       api.Config        `json:"api"`
	Sentry    monitoring.Config `json:"sentry"`
	Geocoder  geocode.Config    `json:"geocoder"`
}

// SetDefaults fills zero values in every section.
func (c *Config) SetDefaults() {
	c.Dispatch.SetDefaults()
	c.Storage.SetDefaults()
	c.Logging.SetDefaults()
	c.API.SetDefaults()
}

// Validate checks every section and names the one that failed.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"dispatch", c.Dispatch.Validate},
		{"storage", c.Storage.Validate},
		{"telemetry", c.Telemetry.Validate},
		{"logging", c.Logging.Validate},
		{"geocoder", c.Geocoder.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	if c.Telemetry.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("telemetry: mqtt.broker is required")
	}
	return nil
}

// Load reads a YAML or JSON file, applies K_ environment overrides, fills
// defaults and validates the result. K_MQTT__BROKER overrides mqtt.broker.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
