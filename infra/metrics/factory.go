package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeternum-health/dispatch/core/factory"
	coremetrics "github.com/aeternum-health/dispatch/core/metrics"
)

// influxConf is the conf block of an "influx" sink. Strict disables the
// fallback to a NopSink when the server is unhealthy at startup.
type influxConf struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	Strict bool   `json:"strict"`
}

func newInflux(conf map[string]any) (coremetrics.MetricsSink, error) {
	var c influxConf
	if err := factory.Decode(conf, &c); err != nil {
		return nil, err
	}
	if c.URL == "" || c.Bucket == "" {
		return nil, errors.New("influx sink needs url and bucket")
	}
	if c.Strict {
		return NewInfluxSink(c.URL, c.Token, c.Org, c.Bucket), nil
	}
	return NewInfluxSinkWithFallback(c.URL, c.Token, c.Org, c.Bucket), nil
}

func init() {
	_ = coremetrics.RegisterMetricsSink("nop", func(map[string]any) (coremetrics.MetricsSink, error) {
		return coremetrics.NopSink{}, nil
	})
	_ = coremetrics.RegisterMetricsSink("prometheus", func(map[string]any) (coremetrics.MetricsSink, error) {
		return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
	})
	_ = coremetrics.RegisterMetricsSink("influx", newInflux)
}
