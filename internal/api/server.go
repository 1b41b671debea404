// Package api implements the local control API of the host shell: a Gin
// server exposing the supervisor operations over HTTP, a websocket stream of
// captured server output, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dock108/aicli-companion/internal/api/middleware"
	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/dock108/aicli-companion/internal/netinfo"
	"github.com/dock108/aicli-companion/internal/supervisor"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Controller is the supervisor surface the API drives.
type Controller interface {
	Start(ctx context.Context, opts supervisor.StartOptions) (supervisor.ServerStatus, error)
	Stop(ctx context.Context, opts supervisor.StopOptions) error
	Status() supervisor.ServerStatus
	CheckHealth(ctx context.Context, port int) bool
	HealthURL(port int) string
	DetectRunning(ctx context.Context, port int) supervisor.ServerStatus
	Logs() []logging.Entry
	ClearLogs()
	SubscribeLogs(buffer int) (<-chan logging.Entry, func())
	DefaultPort() int
}

// ServerOption customises the API server.
type ServerOption func(*serverOptionConfig)

type serverOptionConfig struct {
	extraMiddleware []gin.HandlerFunc
	startDefaults   func(*supervisor.StartOptions)
	networkInfo     func(port int) (netinfo.NetworkInfo, error)
	metrics         bool
	debug           bool
}

// WithMiddleware appends Gin middleware after the built-in ones.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithStartDefaults fills unset start fields, for example the auth token.
func WithStartDefaults(fn func(*supervisor.StartOptions)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.startDefaults = fn
	}
}

// WithNetworkInfo overrides local address discovery.
func WithNetworkInfo(fn func(port int) (netinfo.NetworkInfo, error)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.networkInfo = fn
	}
}

// WithMetrics toggles the Prometheus middleware and /metrics endpoint.
func WithMetrics(enabled bool) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.metrics = enabled
	}
}

// WithDebug keeps Gin in debug mode.
func WithDebug(debug bool) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.debug = debug
	}
}

// Server is the control API.
type Server struct {
	engine *gin.Engine
	server *http.Server
	ctrl   Controller

	startDefaults func(*supervisor.StartOptions)
	networkInfo   func(port int) (netinfo.NetworkInfo, error)
	metrics       bool

	stopOnce sync.Once
	done     chan struct{}
}

// NewServer builds the API server listening on addr.
func NewServer(ctrl Controller, addr string, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{
		networkInfo: netinfo.Info,
		metrics:     true,
	}
	for i := range opts {
		opts[i](optionState)
	}
	if !optionState.debug {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetMetricsEnabled(optionState.metrics)

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.PrometheusMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	s := &Server{
		engine:        engine,
		ctrl:          ctrl,
		startDefaults: optionState.startDefaults,
		networkInfo:   optionState.networkInfo,
		metrics:       optionState.metrics,
		done:          make(chan struct{}),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.server.Addr }

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", middleware.MetricsHandler())

	v0 := s.engine.Group("/v0")
	{
		v0.GET("/status", s.handleStatus)
		v0.POST("/start", s.handleStart)
		v0.POST("/stop", s.handleStop)
		v0.GET("/health", s.handleHealth)
		v0.POST("/detect", s.handleDetect)
		v0.GET("/logs", s.handleLogs)
		v0.DELETE("/logs", s.handleClearLogs)
		v0.GET("/logs/stream", s.handleLogStream)
		v0.GET("/network", s.handleNetwork)
	}
}

// Start listens on the configured address and serves until Stop.
// It is a blocking call.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start control API: server not initialized")
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to start control API: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Stop.
func (s *Server) Serve(ln net.Listener) error {
	if s.metrics {
		go s.countLogEntries()
	}
	log.Infof("Control API listening on %s", ln.Addr())
	if errServe := s.server.Serve(ln); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("control API: %w", errServe)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping control API...")
	s.stopOnce.Do(func() { close(s.done) })
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown control API: %w", err)
	}
	return nil
}

func (s *Server) countLogEntries() {
	entries, cancel := s.ctrl.SubscribeLogs(256)
	defer cancel()
	for {
		select {
		case <-s.done:
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			middleware.RecordLogEntry(string(e.Level))
		}
	}
}
