package config

import "testing"

func TestTelemetryConfigDefaults(t *testing.T) {
	cfg := TelemetryConfig{}
	if cfg.Filter() != "ambulance/+/location" {
		t.Fatalf("unexpected default filter %s", cfg.Filter())
	}
	if cfg.Buffer() != 256 {
		t.Fatalf("expected default buffer 256, got %d", cfg.Buffer())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestTelemetryConfigValues(t *testing.T) {
	cfg := TelemetryConfig{Topic: "fleet/+/gps", BufferSize: 8}
	if cfg.Filter() != "fleet/+/gps" || cfg.Buffer() != 8 {
		t.Fatalf("unexpected values %#v", cfg)
	}
	if err := (TelemetryConfig{Topic: "gps"}).Validate(); err == nil {
		t.Fatalf("expected error for flat topic")
	}
	if err := (TelemetryConfig{MaxLagSeconds: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative lag")
	}
}
