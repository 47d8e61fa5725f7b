package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeternum-health/dispatch/api"
	"github.com/aeternum-health/dispatch/app/plugins"
	"github.com/aeternum-health/dispatch/config"
	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch"
	dispatchlog "github.com/aeternum-health/dispatch/core/dispatch/logging"
	coremetrics "github.com/aeternum-health/dispatch/core/metrics"
	coremon "github.com/aeternum-health/dispatch/core/monitoring"
	"github.com/aeternum-health/dispatch/core/notify"
	"github.com/aeternum-health/dispatch/core/registry"
	"github.com/aeternum-health/dispatch/infra/geocode"
	"github.com/aeternum-health/dispatch/infra/logger"
	"github.com/aeternum-health/dispatch/infra/metrics"
	"github.com/aeternum-health/dispatch/infra/monitoring"
	"github.com/aeternum-health/dispatch/infra/mqtt"
	"github.com/aeternum-health/dispatch/infra/postgres"
	"github.com/aeternum-health/dispatch/infra/telemetry"
	"github.com/aeternum-health/dispatch/internal/eventbus"
)

// queueSampleInterval is how often the queue length is recorded.
const queueSampleInterval = 15 * time.Second

// Service wires the dispatch manager to its stores, the broker, the metrics
// sinks and the HTTP API.
type Service struct {
	Manager *dispatch.Manager
	API     *api.Server

	cfg    *config.Config
	bus    *eventbus.Bus
	sink   coremetrics.MetricsSink
	logs   dispatchlog.LogStore
	client *mqtt.PahoClient
	feed   *telemetry.Feed
	pool   *pgxpool.Pool
	log    logger.Logger
}

// Stores opens the registry and call store selected by cfg. The pool is nil
// for the memory backend.
func Stores(ctx context.Context, cfg config.StorageConfig) (registry.Registry, callstore.Store, *pgxpool.Pool, error) {
	if cfg.Backend != config.StoragePostgres {
		return registry.NewMemoryRegistry(), callstore.NewMemoryStore(), nil, nil
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, nil, err
	}
	return postgres.NewRegistry(pool), postgres.NewCallStore(pool), pool, nil
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	if err := logger.Setup(cfg.Logger); err != nil {
		return nil, err
	}
	log := logger.New("service")
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, err
	}
	coremon.Init(mon)

	s := &Service{cfg: cfg, log: log, bus: eventbus.New()}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	reg, calls, pool, err := Stores(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	s.pool = pool

	s.logs, err = plugins.NewLogStore(cfg.Logging.Backend, map[string]any{
		"path":         cfg.Logging.Path,
		"max_size_mb":  cfg.Logging.MaxSizeMB,
		"max_backups":  cfg.Logging.MaxBackups,
		"max_age_days": cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch log: %w", err)
	}

	s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	notifiers := notify.Multi{notify.LogNotifier{Log: logger.New("notify")}}
	if cfg.MQTT.Broker != "" {
		s.client, err = mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		notifiers = append(notifiers, mqtt.NewNotifier(s.client))
	}

	s.Manager, err = dispatch.NewManager(cfg.Dispatch, dispatch.Deps{
		Registry: reg,
		Calls:    calls,
		Notifier: notifiers,
		Geocoder: geocode.New(cfg.Geocoder),
		Bus:      s.bus,
		Logs:     s.logs,
		Metrics:  s.sink,
		Logger:   logger.New("dispatch"),
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch manager: %w", err)
	}

	if cfg.Telemetry.Enabled {
		s.feed, err = telemetry.NewFeed(cfg.Telemetry, s.client, s.Manager, logger.New("telemetry"), prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	s.API = api.New(cfg.API, s.Manager, s.logs, logger.New("api"))
	ok = true
	return s, nil
}

// Run starts the background workers and serves the API until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer coremon.Recover()
	n, err := s.Manager.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover pending calls: %w", err)
	}
	if n > 0 {
		s.log.Infof("requeued %d pending calls", n)
	}

	metrics.StartEventCollector(ctx, s.bus, s.sink, logger.New("metrics-collector"))
	metrics.StartQueueSampler(ctx, s.Manager.Queue(), s.sink, queueSampleInterval, logger.New("queue-sampler"))
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			defer coremon.Recover()
			if err := metrics.StartPromServer(ctx, addr, prometheus.DefaultGatherer); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.feed != nil {
		if err := s.feed.Start(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	go func() {
		defer coremon.Recover()
		s.Manager.Run(ctx)
	}()
	return s.API.Run(ctx)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var err error
	if s.Manager != nil {
		err = s.Manager.Close()
	} else if s.logs != nil {
		err = s.logs.Close()
	}
	if s.client != nil {
		s.client.Disconnect()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	coremon.Flush(2 * time.Second)
	return err
}
