package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.SessionOpened()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.SessionsActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SessionsActive))
}

func TestSessionLifecycle(t *testing.T) {
	m := NewMetrics()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.IncSpawnFailures()
	m.IncProcessExits()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpawnFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessExits))

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.ActiveSessions)
	assert.Equal(t, int64(2), snap.TotalSessions)
}

func TestControlCommandsByVerb(t *testing.T) {
	m := NewMetrics()

	m.RecordControlCommand("SPOOL", time.Millisecond, false)
	m.RecordControlCommand("SPOOL", time.Millisecond, true)
	m.RecordControlCommand("CLEAR", 0, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ControlCommands.WithLabelValues("SPOOL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ControlCommands.WithLabelValues("CLEAR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("SPOOL")))

	timer := NewTimer(m)
	timer.Stop("START", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SideEffectFailures.WithLabelValues("START")))
}

func TestRelayBytes(t *testing.T) {
	m := NewMetrics()
	m.AddRelayBytes("out", 10)
	m.AddRelayBytes("out", 5)
	m.AddRelayBytes("in", 0)

	assert.Equal(t, 15.0, testutil.ToFloat64(m.RelayBytes.WithLabelValues("out")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.SessionClosed()
		m.IncSpawnFailures()
		m.RecordControlCommand("SPOOL", time.Second, true)
		m.AddRelayBytes("in", 3)
		m.IncWSConnections()
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond, 0, 0)
		_ = m.Snapshot()
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, int64(1), m.Snapshot().TotalErrors)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "fastql_http_requests_total"))
	assert.True(t, strings.Contains(body, "fastql_uptime_seconds"))
}
