// Package observability provides structured logging, Prometheus and
// OpenTelemetry metrics, tracing, health checks, panic recovery, and graceful
// shutdown for gatehouse.
//
// # Structured Logging
//
// Loggers are logrus loggers built from config:
//
//	level, _ := observability.ParseLevel(cfg.Logging.Level)
//	logger := observability.NewLogger(level, observability.FormatJSON, os.Stdout)
//	logger.WithField("username", "alice").Info("session issued")
//
// The request logger travels in the context:
//
//	log := observability.FromContext(r.Context()) // carries request_id and username
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	metrics.RecordLogin("success")
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # OpenTelemetry
//
// InitOTel installs OTLP gRPC tracer and meter providers; NewOTelMetrics
// mirrors the counters above onto the meter:
//
//	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel, logger)
//	sm.Register("opentelemetry", func(ctx context.Context) error {
//		return observability.ShutdownOTel(ctx, providers, logger)
//	})
//	otelMetrics, _ := observability.NewOTelMetrics()
//	metrics.WithOTel(otelMetrics)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version).RequireRedis()
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.Register("database", func(context.Context) error { return db.Close() })
//	defer sm.Shutdown()
package observability
