package observability

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the gatehouse counters onto the global OpenTelemetry
// meter, so they reach the collector alongside traces. A nil *OTelMetrics
// records nothing.
type OTelMetrics struct {
	// Auth metrics
	loginAttempts  metric.Int64Counter
	authzDecisions metric.Int64Counter
	sessionsPurged metric.Int64Counter
	tokensRevoked  metric.Int64Counter

	// Bot score metrics
	botBlocked metric.Int64Counter

	// Cache metrics
	cacheLookups metric.Int64Counter

	// Database metrics
	dbConnectionsInUse metric.Int64Gauge
	dbConnectionsIdle  metric.Int64Gauge
}

// NewOTelMetrics creates the instruments on the global meter provider.
// Call it after InitOTel.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/gatehouse")

	m := &OTelMetrics{}
	var err error

	m.loginAttempts, err = meter.Int64Counter(
		"gatehouse.login.attempts",
		metric.WithDescription("Login attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login attempts counter: %w", err)
	}

	m.authzDecisions, err = meter.Int64Counter(
		"gatehouse.authz.decisions",
		metric.WithDescription("Request authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz decisions counter: %w", err)
	}

	m.sessionsPurged, err = meter.Int64Counter(
		"gatehouse.sessions.purged",
		metric.WithDescription("Expired sessions removed by maintenance"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions purged counter: %w", err)
	}

	m.tokensRevoked, err = meter.Int64Counter(
		"gatehouse.tokens.revoked",
		metric.WithDescription("Session tokens revoked by logout or admin action"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens revoked counter: %w", err)
	}

	m.botBlocked, err = meter.Int64Counter(
		"gatehouse.bot.blocked",
		metric.WithDescription("Requests refused by the bot scorer"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot blocked counter: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"gatehouse.cache.lookups",
		metric.WithDescription("Cache lookups by cache and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache lookups counter: %w", err)
	}

	m.dbConnectionsInUse, err = meter.Int64Gauge(
		"gatehouse.db.connections.in_use",
		metric.WithDescription("Database connections in use"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db connections in use gauge: %w", err)
	}

	m.dbConnectionsIdle, err = meter.Int64Gauge(
		"gatehouse.db.connections.idle",
		metric.WithDescription("Idle database connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db connections idle gauge: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) recordLogin(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *OTelMetrics) recordAuthzDecision(ctx context.Context, decision, stage string) {
	if m == nil {
		return
	}
	m.authzDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("decision", decision),
		attribute.String("stage", stage),
	))
}

func (m *OTelMetrics) recordSessionsPurged(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.sessionsPurged.Add(ctx, n)
}

func (m *OTelMetrics) recordTokenRevoked(ctx context.Context) {
	if m == nil {
		return
	}
	m.tokensRevoked.Add(ctx, 1)
}

func (m *OTelMetrics) recordBotBlocked(ctx context.Context) {
	if m == nil {
		return
	}
	m.botBlocked.Add(ctx, 1)
}

func (m *OTelMetrics) recordCacheLookup(ctx context.Context, cacheType string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.type", cacheType),
		attribute.Bool("hit", hit),
	))
}

func (m *OTelMetrics) recordDBStats(ctx context.Context, stats sql.DBStats) {
	if m == nil {
		return
	}
	m.dbConnectionsInUse.Record(ctx, int64(stats.InUse))
	m.dbConnectionsIdle.Record(ctx, int64(stats.Idle))
}
