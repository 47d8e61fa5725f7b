// Package api exposes the dispatch service over HTTP: call intake and field
// updates, the ambulance fleet, and the operator dashboard views.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aeternum-health/dispatch/core/callstore"
	"github.com/aeternum-health/dispatch/core/dispatch"
	"github.com/aeternum-health/dispatch/core/dispatch/logging"
	"github.com/aeternum-health/dispatch/core/logger"
	"github.com/aeternum-health/dispatch/core/model"
	"github.com/aeternum-health/dispatch/core/queue"
	"github.com/aeternum-health/dispatch/core/registry"
)

// Config holds the HTTP settings.
type Config struct {
	Addr      string `json:"addr"`
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
	// ShutdownSeconds bounds the graceful shutdown.
	ShutdownSeconds int `json:"shutdown_seconds"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownSeconds <= 0 {
		c.ShutdownSeconds = 10
	}
}

// Dispatcher is the part of the dispatch coordinator the API drives.
type Dispatcher interface {
	Submit(ctx context.Context, req model.CallRequest) (dispatch.Outcome, error)
	Describe(ctx context.Context, id string) (dispatch.Outcome, error)
	UpdateCall(ctx context.Context, id string, u dispatch.CallUpdate) (dispatch.Outcome, error)
	Register(ctx context.Context, amb model.Ambulance) (model.Ambulance, error)
	UpdateAmbulance(ctx context.Context, id string, u dispatch.AmbulanceUpdate) (model.Ambulance, error)
	Stats(ctx context.Context) (dispatch.Stats, error)
	Calls() callstore.Store
	Registry() registry.Registry
	Queue() *queue.Queue
}

var _ Dispatcher = (*dispatch.Manager)(nil)

// Server routes HTTP requests to the dispatcher.
type Server struct {
	cfg  Config
	d    Dispatcher
	logs logging.LogStore
	log  logger.Logger
	e    *echo.Echo
}

// New builds the router. logs may be nil when no audit log is kept.
func New(cfg Config, d Dispatcher, logs logging.LogStore, log logger.Logger) *Server {
	cfg.SetDefaults()
	if logs == nil {
		logs = logging.NopStore{}
	}
	s := &Server{cfg: cfg, d: d, logs: logs, log: logger.OrNop(log), e: echo.New()}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = s.errorHandler
	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debugf("%s %s %d %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/healthz", func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]string{"status": "ok"}) })

	g := s.e.Group("/api", JWTMiddleware([]byte(s.cfg.JWTSecret), s.cfg.JWTIssuer))
	staff := RequireRole(RoleHospital)
	field := RequireRole(RoleHospital, RoleDriver)

	g.POST("/emergency", s.submitCall, staff)
	g.GET("/emergency", s.listCalls, staff)
	g.GET("/emergency/export", s.exportCalls, staff)
	g.GET("/emergency/:id", s.getCall, field)
	g.PUT("/emergency/:id", s.updateCall, staff)

	g.GET("/ambulances", s.listAmbulances, staff)
	g.GET("/ambulances/:id", s.getAmbulance, field)
	g.POST("/ambulances", s.registerAmbulance, RequireRole(RoleAdmin))
	g.PUT("/ambulances/:id", s.updateAmbulance, field)

	g.GET("/dispatch/queue", s.queueSnapshot, staff)
	g.GET("/dispatch/stats", s.stats, staff)
	g.GET("/dispatch/logs", s.queryLogs, staff)
	g.GET("/dispatch/report", s.report, staff)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("api listening on %s", s.cfg.Addr)
		if err := s.e.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.ShutdownSeconds)*time.Second)
	defer cancel()
	return s.e.Shutdown(sctx)
}
