package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth metrics
	LoginAttemptsTotal  *prometheus.CounterVec
	AuthzDecisionsTotal *prometheus.CounterVec
	SessionsPurgedTotal prometheus.Counter
	TokensRevokedTotal  prometheus.Counter

	// Bot score metrics
	BotBlockedTotal   prometheus.Counter
	BotDelayedTotal   prometheus.Counter
	BotDelaySeconds   prometheus.Histogram
	BotTrackedClients prometheus.Gauge

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive       prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge

	// Redis metrics
	RedisCommandsTotal   *prometheus.CounterVec
	RedisCommandDuration *prometheus.HistogramVec

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_authz_decisions_total",
				Help: "Request authorization decisions",
			},
			[]string{"decision", "stage"},
		),
		SessionsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_sessions_purged_total",
				Help: "Expired sessions removed by maintenance",
			},
		),
		TokensRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_tokens_revoked_total",
				Help: "Tokens added to the revocation set",
			},
		),

		BotBlockedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_bot_blocked_total",
				Help: "Requests blocked by the bot score middleware",
			},
		),
		BotDelayedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_bot_delayed_total",
				Help: "Requests delayed by the bot score middleware",
			},
		),
		BotDelaySeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_bot_delay_seconds",
				Help:    "Artificial latency added to suspicious clients",
				Buckets: []float64{.5, .6, .7, .8, .9, 1},
			},
		),
		BotTrackedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_bot_tracked_clients",
				Help: "Clients currently held in the bot score table",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatehouse_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),

		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),
		RedisCommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatehouse_redis_command_duration_seconds",
				Help:    "Redis command duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"command"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.AuthzDecisionsTotal,
		m.SessionsPurgedTotal,
		m.TokensRevokedTotal,
		m.BotBlockedTotal,
		m.BotDelayedTotal,
		m.BotDelaySeconds,
		m.BotTrackedClients,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
		m.RedisCommandsTotal,
		m.RedisCommandDuration,
	)

	return m
}

// WithOTel mirrors the auth, bot, cache, and pool metrics onto o.
func (m *Metrics) WithOTel(o *OTelMetrics) *Metrics {
	if m != nil {
		m.otel = o
	}
	return m
}

// RecordLogin counts a login attempt. outcome is "success" or an error kind.
func (m *Metrics) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	m.otel.recordLogin(context.Background(), outcome)
}

// RecordAuthzDecision counts an authorization decision at the stage it was made.
func (m *Metrics) RecordAuthzDecision(allowed bool, stage string) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.AuthzDecisionsTotal.WithLabelValues(decision, stage).Inc()
	m.otel.recordAuthzDecision(context.Background(), decision, stage)
}

func (m *Metrics) RecordSessionsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsPurgedTotal.Add(float64(n))
	m.otel.recordSessionsPurged(context.Background(), n)
}

func (m *Metrics) RecordTokenRevoked() {
	if m == nil {
		return
	}
	m.TokensRevokedTotal.Inc()
	m.otel.recordTokenRevoked(context.Background())
}

func (m *Metrics) RecordBotBlocked() {
	if m == nil {
		return
	}
	m.BotBlockedTotal.Inc()
	m.otel.recordBotBlocked(context.Background())
}

func (m *Metrics) RecordBotDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.BotDelayedTotal.Inc()
	m.BotDelaySeconds.Observe(d.Seconds())
}

func (m *Metrics) SetBotTrackedClients(n int) {
	if m == nil {
		return
	}
	m.BotTrackedClients.Set(float64(n))
}

// RecordCacheLookup counts a hit or miss for the named cache.
func (m *Metrics) RecordCacheLookup(cacheType string, hit bool) {
	if m == nil {
		return
	}
	m.otel.recordCacheLookup(context.Background(), cacheType, hit)
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordDBStats copies connection pool stats into the database gauges.
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
	m.otel.recordDBStats(context.Background(), stats)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Mounted with router.Use it labels by route template, so path parameters
// do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
		})
	}
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

type redisStartKey struct{}

// RedisHook records command counts and latency for a go-redis client.
type RedisHook struct {
	metrics *Metrics
}

// NewRedisHook returns a hook for client.AddHook.
func NewRedisHook(metrics *Metrics) *RedisHook {
	return &RedisHook{metrics: metrics}
}

func (h *RedisHook) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	return context.WithValue(ctx, redisStartKey{}, time.Now()), nil
}

func (h *RedisHook) AfterProcess(ctx context.Context, cmd redis.Cmder) error {
	h.observe(ctx, []redis.Cmder{cmd})
	return nil
}

func (h *RedisHook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	return context.WithValue(ctx, redisStartKey{}, time.Now()), nil
}

func (h *RedisHook) AfterProcessPipeline(ctx context.Context, cmds []redis.Cmder) error {
	h.observe(ctx, cmds)
	return nil
}

func (h *RedisHook) observe(ctx context.Context, cmds []redis.Cmder) {
	if h.metrics == nil {
		return
	}
	start, _ := ctx.Value(redisStartKey{}).(time.Time)
	for _, cmd := range cmds {
		status := "ok"
		if err := cmd.Err(); err != nil && err != redis.Nil {
			status = "error"
		}
		h.metrics.RedisCommandsTotal.WithLabelValues(cmd.Name(), status).Inc()
		if !start.IsZero() {
			h.metrics.RedisCommandDuration.WithLabelValues(cmd.Name()).Observe(time.Since(start).Seconds())
		}
	}
}
