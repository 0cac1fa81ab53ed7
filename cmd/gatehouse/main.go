package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/maintenance"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/platinummonkey/gatehouse/pkg/storage/sqlstore"
	"github.com/platinummonkey/gatehouse/pkg/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	logger.WithFields(logrus.Fields{
		"version": version,
		"driver":  cfg.Storage.Driver,
	}).Info("starting gatehouse")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("gatehouse exited with error")
	}
	logger.Info("gatehouse stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		if err := shutdown.Shutdown(); err != nil {
			logger.WithError(err).Error("shutdown completed with errors")
		}
	}()

	otelCfg := cfg.Observability.OTel
	otelCfg.ServiceVersion = version
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		return err
	}
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled || providers != nil {
		metrics = observability.NewMetrics(registry)
	}
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		metrics.WithOTel(otelMetrics)
	}

	db, err := sqlstore.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	if err := sqlstore.Migrate(ctx, db, logger); err != nil {
		return err
	}
	store := sqlstore.New(db, sqlstore.WithLogger(logger))

	var limiter auth.AttemptLimiter
	var memoryLimiter *auth.MemoryLimiter
	health := observability.NewHealthChecker(db, nil, version).WithMetrics(metrics)

	if cfg.Storage.RedisEnabled() {
		client, err := storage.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		if metrics != nil {
			client.AddHook(observability.NewRedisHook(metrics))
		}
		shutdown.Register("redis", func(context.Context) error { return client.Close() })

		limiter = auth.NewRedisLimiter(client, cfg.Auth.Limiter, cfg.Storage.RedisKeyPrefix+":login", nil)
		health = observability.NewHealthChecker(db, client, version).WithMetrics(metrics).RequireRedis()
		logger.Info("login limiter backed by redis")
	} else {
		memoryLimiter = auth.NewMemoryLimiter(cfg.Auth.Limiter, nil)
		limiter = memoryLimiter
		logger.Warn("login limiter is process local; set GATEHOUSE_REDIS_URL to share it across instances")
	}

	authn := auth.NewAuthenticator(store, store, limiter, auth.Options{
		SessionDuration:      cfg.Auth.SessionDuration,
		AllowLegacyPasswords: cfg.Auth.AllowLegacyPasswords,
		Hasher:               auth.NewPasswordHasher(cfg.Auth.BcryptCost),
		Logger:               logger,
	})

	table, err := routeTable(cfg.Routes.TablePath)
	if err != nil {
		return err
	}
	exempt := append([]string(nil), cfg.Routes.Exempt...)
	var registrars []api.RouteRegistrar
	if cfg.Server.DocsEnabled {
		exempt = append(exempt, swagger.Routes...)
		registrars = append(registrars, swagger.NewHandlers())
	}
	authz := rbac.NewAuthorizer(authn, store, store, rbac.AuthorizerConfig{
		Table:            table,
		Exempt:           rbac.NewExemptList(exempt),
		UndeclaredPolicy: cfg.Routes.UndeclaredPolicy,
		Logger:           logger,
		Metrics:          metrics,
	})

	var (
		auditLog    audit.Logger
		auditReader audit.Reader
		auditStore  *audit.DBLogger
	)
	if cfg.Audit.Enabled {
		auditStore, err = audit.NewDBLogger(db, cfg.Audit.Retention)
		if err != nil {
			return err
		}
		sink := audit.NewAsyncLogger(
			audit.NewMultiLogger(audit.NewLogrusLogger(logger), auditStore),
			audit.AsyncConfig{Workers: cfg.Audit.Workers, QueueSize: cfg.Audit.QueueSize},
			logger,
		)
		shutdown.Register("audit", func(context.Context) error { return sink.Close() })
		auditLog, auditReader = sink, auditStore
	}

	proxies, err := middleware.NewProxyResolver(cfg.Bot.TrustedProxies)
	if err != nil {
		return err
	}
	bots, err := middleware.NewBotScorer(cfg.Bot,
		middleware.WithBotMetrics(metrics),
		middleware.WithBotLogger(logger),
	)
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.Dependencies{
		Authenticator: authn,
		Authorizer:    authz,
		Store:         store,
		BotScorer:     bots,
		Proxies:       proxies,
		Metrics:       metrics,
		Logger:        logger,
		Audit:         auditLog,
		AuditReader:   auditReader,
		CookieName:    cfg.Auth.CookieName,
		CookieSecure:  cfg.Auth.CookieSecure,
		RetryAfter:    cfg.Auth.Limiter.Window,
		StrictRoutes:  cfg.Routes.StrictRoutes,
		Registrars:    registrars,
	})
	if err != nil {
		return err
	}

	if cfg.Maintenance.Enabled {
		opts := []maintenance.Option{
			maintenance.WithCleaner("bot_scorer", bots),
			maintenance.WithMetrics(metrics),
			maintenance.WithLogger(logger),
		}
		if memoryLimiter != nil {
			opts = append(opts, maintenance.WithCleaner("login_limiter", memoryLimiter))
		}
		if auditStore != nil {
			opts = append(opts, maintenance.WithPruner("audit_events", auditStore))
		}
		scheduler := maintenance.NewScheduler(store, opts...)
		health.WithCheck("maintenance", false, scheduler.LastError)
		if err := scheduler.Start(cfg.Maintenance.Schedule); err != nil {
			return err
		}
		shutdown.Register("maintenance", scheduler.Stop)
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, "gatehouse"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("api server", apiServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(logger, "api", apiServer) })
	g.Go(func() error { return serve(logger, "health", healthServer) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return shutdown.Shutdown()
	})

	return g.Wait()
}

func serve(logger logrus.FieldLogger, name string, srv *http.Server) error {
	logger.WithFields(logrus.Fields{
		"server": name,
		"addr":   srv.Addr,
	}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func routeTable(path string) (*rbac.RouteTable, error) {
	if path == "" {
		return api.DefaultRouteTable(), nil
	}
	return rbac.LoadRouteTable(path)
}
