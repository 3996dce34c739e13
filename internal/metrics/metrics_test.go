package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestNewMetrics_RegistersOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Decisions.WithLabelValues("not_drop").Inc()
	m.Orders.WithLabelValues("BUY", "ok").Inc()
	m.OpenPositions.Set(2)

	body := scrape(t, NewServer(":0", NewHealthStatus(0), reg).Handler())
	assert.Contains(t, body, `meanrev_decisions_total{reason="not_drop"} 1`)
	assert.Contains(t, body, `meanrev_orders_total{result="ok",side="BUY"} 1`)
	assert.Contains(t, body, "meanrev_open_positions 2")

	// a second registry must not collide
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}

func TestHealth_Report(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	h := NewHealthStatus(time.Minute)
	_, code := h.report(now)
	assert.Equal(t, http.StatusServiceUnavailable, code, "no tick yet")

	h.RecordTick(now.Add(-10*time.Second), true)
	r, code := h.report(now)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", r.Status)
	assert.Nil(t, r.RedisConnected, "redis omitted until probed")

	h.RecordTick(now, false)
	r, code = h.report(now)
	assert.Equal(t, "degraded", r.Status)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	h.RecordTick(now.Add(-2*time.Minute), true)
	r, _ = h.report(now)
	assert.Equal(t, "unhealthy", r.Status)
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.TicksTotal.Add(3)

	h := NewHealthStatus(time.Hour)
	h.RecordTick(time.Now(), true)
	srv := NewServer(":0", h, reg)

	assert.True(t, strings.Contains(scrape(t, srv.Handler()), "meanrev_ticks_total 3"))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
