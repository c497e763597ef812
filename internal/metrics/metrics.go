package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indicator engine.
type Metrics struct {
	SymbolsTotal  *prometheus.CounterVec // labels: status=ok|error
	ComputeDur    prometheus.Histogram
	BarsProcessed prometheus.Counter
	BatchDur      prometheus.Histogram
	BatchesTotal  *prometheus.CounterVec // labels: trigger

	// Nine-turn completions
	SetupsCompleted     *prometheus.CounterVec // labels: direction
	CountdownsCompleted *prometheus.CounterVec // labels: direction

	SinkErrors *prometheus.CounterVec // labels: sink
	JobsTotal  *prometheus.CounterVec // labels: result=ok|partial|error

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg, or with the
// default registry when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		SymbolsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_symbols_total",
			Help: "Symbols processed by the batch runner",
		}, []string{"status"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_symbol_compute_duration_seconds",
			Help:    "Load, compute and write latency per symbol",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		BarsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_bars_processed_total",
			Help: "Daily bars run through the indicator engine",
		}),
		BatchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indengine_batch_duration_seconds",
			Help:    "Wall time of a full batch run",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_batches_total",
			Help: "Batch runs started, by trigger",
		}, []string{"trigger"}),

		SetupsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_setups_completed_total",
			Help: "Completed nine-bar setups, counted once per symbol and trade date",
		}, []string{"direction"}),
		CountdownsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_countdowns_completed_total",
			Help: "Completed thirteen-bar countdowns, counted once per symbol and trade date",
		}, []string{"direction"}),

		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_sink_errors_total",
			Help: "Failed result writes by sink",
		}, []string{"sink"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indengine_jobs_total",
			Help: "Recompute jobs consumed from the job stream, by result",
		}, []string{"result"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indengine_redis_buffered_writes_total",
			Help: "Latest results buffered locally while the Redis breaker was open",
		}),
	}

	reg.MustRegister(
		m.SymbolsTotal,
		m.ComputeDur,
		m.BarsProcessed,
		m.BatchDur,
		m.BatchesTotal,
		m.SetupsCompleted,
		m.CountdownsCompleted,
		m.SinkErrors,
		m.JobsTotal,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
	)
	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool
	RedisConnected bool
	SQLiteOK       bool

	LastRunID     string
	LastRunAt     time.Time
	LastRunOK     int
	LastRunFailed int

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status. Redis only counts toward
// health when redisEnabled is set.
func NewHealthStatus(redisEnabled bool) *HealthStatus {
	return &HealthStatus{
		RedisEnabled: redisEnabled,
		StartedAt:    time.Now(),
	}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// RecordRun stores the outcome of the most recent batch run.
func (h *HealthStatus) RecordRun(runID string, ok, failed int) {
	h.mu.Lock()
	h.LastRunID = runID
	h.LastRunAt = time.Now()
	h.LastRunOK = ok
	h.LastRunFailed = failed
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
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
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(checkCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(checkCtx, sqlDB)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	if !h.SQLiteOK || redisDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK && (redisDown || !h.RedisEnabled) {
		overallStatus = "unhealthy"
	}

	lastRun := ""
	if !h.LastRunAt.IsZero() {
		lastRun = h.LastRunAt.Format(time.RFC3339)
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastRunID       string  `json:"last_run_id,omitempty"`
		LastRunAt       string  `json:"last_run_at,omitempty"`
		LastRunOK       int     `json:"last_run_ok"`
		LastRunFailed   int     `json:"last_run_failed"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastRunID:       h.LastRunID,
		LastRunAt:       lastRun,
		LastRunOK:       h.LastRunOK,
		LastRunFailed:   h.LastRunFailed,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz, with every
// other path handed to app.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the HTTP server. gatherer defaults to the global
// registry; app may be nil.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, app http.Handler) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)
	if app != nil {
		mux.Handle("/", app)
	}

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
