// Package metrics exposes Prometheus collectors for the trading loop and a
// small HTTP server for /metrics and /healthz.
package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the bot.
type Metrics struct {
	TicksTotal    prometheus.Counter
	TickErrors    *prometheus.CounterVec // labels: kind=transient|fatal|unexpected|panic
	TickDuration  prometheus.Histogram
	Decisions     *prometheus.CounterVec // labels: reason
	Orders        *prometheus.CounterVec // labels: side, result=ok|failed
	FailedExits   prometheus.Counter
	OpenPositions prometheus.Gauge
	RealizedPnL   prometheus.Gauge
	LastClose     prometheus.Gauge
	Indicators    *prometheus.GaugeVec // labels: name=rsi|change|bb_lower|imbalance

	DepthReconnects prometheus.Counter

	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meanrev_ticks_total",
			Help: "Evaluation ticks completed",
		}),
		TickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meanrev_tick_errors_total",
			Help: "Ticks aborted by an error, by kind",
		}, []string{"kind"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meanrev_tick_duration_seconds",
			Help:    "Wall time of one tick including venue calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meanrev_decisions_total",
			Help: "Entry decisions by reason",
		}, []string{"reason"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meanrev_orders_total",
			Help: "Order attempts by side and result",
		}, []string{"side", "result"}),
		FailedExits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meanrev_failed_exits_total",
			Help: "Exits that fired but whose sell order failed",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meanrev_open_positions",
			Help: "Currently open positions",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meanrev_realized_pnl",
			Help: "Realized P&L in quote currency since start",
		}),
		LastClose: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meanrev_last_close",
			Help: "Close of the latest candle evaluated",
		}),
		Indicators: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meanrev_indicator_value",
			Help: "Latest indicator values seen by the signal evaluator",
		}, []string{"name"}),
		DepthReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meanrev_depth_stream_reconnects_total",
			Help: "Order book websocket reconnections",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meanrev_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meanrev_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meanrev_redis_buffered_writes_total",
			Help: "Trade records buffered while Redis was unavailable",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.TickErrors,
		m.TickDuration,
		m.Decisions,
		m.Orders,
		m.FailedExits,
		m.OpenPositions,
		m.RealizedPnL,
		m.LastClose,
		m.Indicators,
		m.DepthReconnects,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
	)
	return m
}

// HealthStatus tracks liveness of the trading loop and its dependencies.
type HealthStatus struct {
	mu sync.RWMutex

	LastTickTime  time.Time
	ExchangeOK    bool
	DepthStreamOK bool
	StaleAfter    time.Duration // tick age beyond which the loop counts as stalled

	redisEnabled    bool
	RedisConnected  bool
	RedisLatencyMs  float64
	sqliteEnabled   bool
	SQLiteOK        bool
	SQLiteLatencyMs float64

	LastCheckAt time.Time
	StartedAt   time.Time
}

// NewHealthStatus returns a status that considers the loop stalled once the
// last tick is older than staleAfter.
func NewHealthStatus(staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), StaleAfter: staleAfter}
}

// RecordTick marks a completed tick and whether the venue answered.
func (h *HealthStatus) RecordTick(t time.Time, exchangeOK bool) {
	h.mu.Lock()
	if exchangeOK {
		h.LastTickTime = t
	}
	h.ExchangeOK = exchangeOK
	h.mu.Unlock()
}

func (h *HealthStatus) SetDepthStreamOK(v bool) {
	h.mu.Lock()
	h.DepthStreamOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.redisEnabled = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.sqliteEnabled = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the optional dependencies every interval.
// Either may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

type healthReport struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	LastTickTime    string   `json:"last_tick_time"`
	TickAge         string   `json:"tick_age"`
	ExchangeOK      bool     `json:"exchange_ok"`
	DepthStreamOK   bool     `json:"depth_stream_ok"`
	RedisConnected  *bool    `json:"redis_connected,omitempty"`
	RedisLatencyMs  *float64 `json:"redis_latency_ms,omitempty"`
	SQLiteOK        *bool    `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs *float64 `json:"sqlite_latency_ms,omitempty"`
	LastCheckAt     string   `json:"last_check_at,omitempty"`
}

func (h *HealthStatus) report(now time.Time) (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := healthReport{
		Status:        "healthy",
		Uptime:        now.Sub(h.StartedAt).Round(time.Second).String(),
		ExchangeOK:    h.ExchangeOK,
		DepthStreamOK: h.DepthStreamOK,
	}
	code := http.StatusOK

	stalled := h.LastTickTime.IsZero() || (h.StaleAfter > 0 && now.Sub(h.LastTickTime) > h.StaleAfter)
	if !h.LastTickTime.IsZero() {
		r.LastTickTime = h.LastTickTime.Format(time.RFC3339)
		r.TickAge = now.Sub(h.LastTickTime).Round(time.Millisecond).String()
	}
	if h.redisEnabled {
		r.RedisConnected, r.RedisLatencyMs = &h.RedisConnected, &h.RedisLatencyMs
	}
	if h.sqliteEnabled {
		r.SQLiteOK, r.SQLiteLatencyMs = &h.SQLiteOK, &h.SQLiteLatencyMs
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}

	degraded := !h.ExchangeOK ||
		(h.redisEnabled && !h.RedisConnected) ||
		(h.sqliteEnabled && !h.SQLiteOK)
	switch {
	case stalled:
		r.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case degraded:
		r.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return r, code
}

// ServeHTTP handles /healthz.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	r, code := h.report(time.Now())
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(r)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates a metrics and health server serving collectors from g.
func NewServer(addr string, health *HealthStatus, g prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle mounts h under pattern. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
