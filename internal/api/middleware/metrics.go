// Package middleware provides HTTP middleware for the control API.
// This file contains Prometheus metrics for requests, supervisor operations
// and captured log lines.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_http_requests_total",
			Help: "Total number of control API requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "companion_http_request_duration_seconds",
			Help:    "Duration of control API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "companion_active_connections",
			Help: "Number of in-flight control API requests",
		},
	)
	activeConnectionsCount int64

	// supervisorOperations counts start/stop/detect calls by outcome code.
	supervisorOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_supervisor_operations_total",
			Help: "Supervisor operations by result",
		},
		[]string{"operation", "result"},
	)

	logEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "companion_log_entries_total",
			Help: "Captured server log entries by level",
		},
		[]string{"level"},
	)

	serverRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "companion_server_running",
			Help: "1 when the companion server is running, by ownership",
		},
		[]string{"ownership"},
	)

	// metricsRegistered ensures metrics are only registered once.
	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all Prometheus metrics.
// It is safe to call multiple times; metrics will only be registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		activeConnections,
		supervisorOperations,
		logEntriesTotal,
		serverRunning,
	)
}

// PrometheusMiddleware returns a Gin middleware that collects request count,
// duration and in-flight requests.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		RegisterMetrics()

		// Skip metrics endpoint to avoid self-referential metrics
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		atomic.AddInt64(&activeConnectionsCount, 1)
		activeConnections.Inc()
		defer func() {
			atomic.AddInt64(&activeConnectionsCount, -1)
			activeConnections.Dec()
		}()

		path := normalizePath(c.FullPath(), c.Request.URL.Path)
		method := c.Request.Method
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// normalizePath prefers the matched route template and collapses unknown
// paths to keep label cardinality bounded.
func normalizePath(route, path string) string {
	if route != "" {
		return route
	}
	if strings.HasPrefix(path, "/v0/") {
		return "/v0/*"
	}
	return "unmatched"
}

// MetricsHandler returns the Prometheus HTTP handler for the /metrics endpoint.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// GetActiveConnections returns the current number of in-flight requests.
func GetActiveConnections() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

// RecordSupervisorOperation counts one supervisor call. result is "ok" or an
// error code.
func RecordSupervisorOperation(operation, result string) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	supervisorOperations.WithLabelValues(operation, result).Inc()
}

// RecordLogEntry counts one captured log entry.
func RecordLogEntry(level string) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	logEntriesTotal.WithLabelValues(level).Inc()
}

// SetServerRunning publishes the server state gauge.
func SetServerRunning(running, external bool) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	managed, ext := 0.0, 0.0
	if running && external {
		ext = 1
	} else if running {
		managed = 1
	}
	serverRunning.WithLabelValues("managed").Set(managed)
	serverRunning.WithLabelValues("external").Set(ext)
}
