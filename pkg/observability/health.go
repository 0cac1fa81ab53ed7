package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc reports a dependency failure as an error.
type CheckFunc func(ctx context.Context) error

type dependencyCheck struct {
	name     string
	critical bool
	check    CheckFunc
}

// HealthChecker answers the liveness and readiness checks. The database is
// always critical; Redis is critical only after RequireRedis.
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	version string
	metrics *Metrics
	checks  []dependencyCheck

	redisRequired bool
}

// NewHealthChecker creates a new health checker. Either client may be nil.
func NewHealthChecker(db *sql.DB, redis *redis.Client, version string) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redis,
		version: version,
	}
}

// RequireRedis makes a Redis failure unhealthy instead of degraded. Use it
// when Redis backs the login limiter, since every login fails closed while
// it is down.
func (h *HealthChecker) RequireRedis() *HealthChecker {
	h.redisRequired = true
	return h
}

// WithMetrics publishes database pool stats on every readiness check.
func (h *HealthChecker) WithMetrics(m *Metrics) *HealthChecker {
	h.metrics = m
	return h
}

// WithCheck adds a named check. A failing non-critical check degrades the
// status; a failing critical check makes it unhealthy.
func (h *HealthChecker) WithCheck(name string, critical bool, check CheckFunc) *HealthChecker {
	h.checks = append(h.checks, dependencyCheck{name: name, critical: critical, check: check})
	return h
}

// HealthStatus is the readiness response body.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is one check's result.
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Liveness always answers 200 while the process serves requests.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness runs every check; 503 only when the result is unhealthy.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

// Check runs the database, Redis, and custom checks in that order.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	for _, p := range h.allChecks() {
		result := runCheck(ctx, p)
		status.Dependencies[p.name] = result
		status.Status = worse(status.Status, result.Status)
	}

	return status
}

func (h *HealthChecker) allChecks() []dependencyCheck {
	var checks []dependencyCheck
	if h.db != nil {
		checks = append(checks, dependencyCheck{name: "database", critical: true, check: h.checkDatabase})
	}
	if h.redis != nil {
		checks = append(checks, dependencyCheck{name: "redis", critical: h.redisRequired, check: h.checkRedis})
	}
	return append(checks, h.checks...)
}

func runCheck(ctx context.Context, p dependencyCheck) DependencyStatus {
	start := time.Now()
	err := p.check(ctx)

	result := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: start,
	}
	var degraded *degradedError
	switch {
	case err == nil:
	case errors.As(err, &degraded):
		result.Status = StatusDegraded
		result.Message = degraded.msg
	case p.critical:
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	default:
		result.Status = StatusDegraded
		result.Message = err.Error()
	}
	return result
}

// degradedError marks a dependency that works but is under pressure.
type degradedError struct{ msg string }

func (e *degradedError) Error() string { return e.msg }

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func (h *HealthChecker) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.New("query failed: " + err.Error())
	}

	stats := h.db.Stats()
	h.metrics.RecordDBStats(stats)
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		return &degradedError{msg: "connection pool exhausted"}
	}
	return nil
}

func (h *HealthChecker) checkRedis(ctx context.Context) error {
	return h.redis.Ping(ctx).Err()
}

// Names lists the checks Check runs, sorted.
func (h *HealthChecker) Names() []string {
	var names []string
	for _, p := range h.allChecks() {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
