package monitoring

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	coremon "github.com/aeternum-health/dispatch/core/monitoring"
)

// Config holds the Sentry client settings.
type Config struct {
	DSN              string  `json:"dsn" yaml:"dsn"`
	Environment      string  `json:"environment" yaml:"environment"`
	Release          string  `json:"release" yaml:"release"`
	TracesSampleRate float64 `json:"traces_sample_rate" yaml:"traces_sample_rate"`
}

// NewSentryMonitor initializes Sentry using the provided configuration and
// returns a Monitor implementation. An empty DSN yields a NopMonitor.
func NewSentryMonitor(cfg Config) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		ServerName:       "dispatch",
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return &sentryMonitor{hub: sentry.CurrentHub()}, nil
}

type sentryMonitor struct {
	hub *sentry.Hub
}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		s.hub.CaptureException(err)
	})
}

func (s *sentryMonitor) CapturePanic(v any) { s.hub.Recover(v) }

func (s *sentryMonitor) Flush(timeout time.Duration) { s.hub.Flush(timeout) }
