package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/v0/status", normalizePath("/v0/status", "/v0/status"))
	assert.Equal(t, "/v0/*", normalizePath("", "/v0/unknown/123"))
	assert.Equal(t, "unmatched", normalizePath("", "/favicon.ico"))
}

func TestPrometheusMiddleware_TracksInFlightAndExports(t *testing.T) {
	gin.SetMode(gin.TestMode)
	SetMetricsEnabled(true)

	var inFlight int64
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/v0/status", func(c *gin.Context) {
		inFlight = GetActiveConnections()
		c.Status(http.StatusOK)
	})
	r.GET("/metrics", MetricsHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v0/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, inFlight, int64(1))

	RecordSupervisorOperation("start", "ok")
	RecordLogEntry("error")
	SetServerRunning(true, true)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `companion_http_requests_total{method="GET",path="/v0/status",status="200"}`)
	assert.Contains(t, body, `companion_supervisor_operations_total{operation="start",result="ok"}`)
	assert.Contains(t, body, `companion_server_running{ownership="external"} 1`)
	assert.True(t, strings.Contains(body, `companion_log_entries_total{level="error"}`))
}

func TestMetricsHandler_DisabledReturns404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	SetMetricsEnabled(false)
	defer SetMetricsEnabled(true)

	r := gin.New()
	r.GET("/metrics", MetricsHandler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
