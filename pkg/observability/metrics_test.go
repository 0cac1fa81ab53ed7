package observability

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	// Registering twice on the same registry panics
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordLogin("success")
		m.RecordAuthzDecision(true, "allowed")
		m.RecordSessionsPurged(3)
		m.RecordTokenRevoked()
		m.RecordBotBlocked()
		m.RecordBotDelay(time.Second)
		m.SetBotTrackedClients(4)
		m.RecordCacheLookup("profile", true)
		m.RecordDBStats(sql.DBStats{})
	})
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLogin("success")
	m.RecordLogin("success")
	m.RecordLogin("rate_limited")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues("rate_limited")))

	m.RecordAuthzDecision(false, "arrested_checked")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("denied", "arrested_checked")))

	m.RecordSessionsPurged(5)
	m.RecordSessionsPurged(0)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.SessionsPurgedTotal))

	m.RecordBotBlocked()
	m.RecordBotDelay(700 * time.Millisecond)
	m.SetBotTrackedClients(12)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BotBlockedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BotDelayedTotal))
	assert.Equal(t, float64(12), testutil.ToFloat64(m.BotTrackedClients))

	m.RecordCacheLookup("profile", true)
	m.RecordCacheLookup("profile", false)
	m.RecordCacheLookup("profile", false)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("profile")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("profile")))

	m.RecordDBStats(sql.DBStats{InUse: 2, Idle: 3, WaitCount: 7})
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DBConnectionsActive))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.DBConnectionsIdle))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.DBConnectionsWaitCount))
}

func TestHTTPMetricsMiddleware_RouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/accounts/{username}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods("GET")

	for _, user := range []string{"alice", "bob"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/accounts/"+user, nil))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/api/accounts/{username}", "418")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := HTTPMetricsMiddleware(nil)(next)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordLogin("success")

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	rr := httptest.NewRecorder()
	serveMux.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `gatehouse_login_attempts_total{outcome="success"} 1`))
}

func TestRedisHook(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	client.AddHook(NewRedisHook(m))

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	assert.Equal(t, redis.Nil, client.Get(ctx, "missing").Err())

	pipe := client.TxPipeline()
	pipe.Incr(ctx, "counter")
	_, err := pipe.Exec(ctx)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RedisCommandsTotal.WithLabelValues("set", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RedisCommandsTotal.WithLabelValues("get", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RedisCommandsTotal.WithLabelValues("incr", "ok")))
}
