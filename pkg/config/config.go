package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Auth          AuthConfig
	Routes        RoutesConfig
	Bot           middleware.BotConfig
	Observability ObservabilityConfig
	Maintenance   MaintenanceConfig
	Audit         AuditConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s health checks)
	HealthPort string

	// DocsEnabled serves the OpenAPI document and Swagger UI without a
	// session.
	DocsEnabled bool
}

// AuthConfig holds login and session settings
type AuthConfig struct {
	SessionDuration      time.Duration
	Limiter              auth.LimiterConfig
	AllowLegacyPasswords bool
	BcryptCost           int
	CookieName           string
	CookieSecure         bool
}

// RoutesConfig controls the permission route table
type RoutesConfig struct {
	// TablePath points at a YAML or JSON route table. Empty uses the
	// built-in table.
	TablePath        string
	Exempt           []string
	StrictRoutes     bool
	UndeclaredPolicy rbac.UndeclaredPolicy
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       logrus.Level
	LogFormat      string
	MetricsEnabled bool
	// OTel exports traces and metrics over OTLP gRPC. ServiceVersion is
	// filled in from the build version at startup.
	OTel observability.OTelConfig
}

// MaintenanceConfig schedules background cleanup
type MaintenanceConfig struct {
	Enabled bool
	// Schedule is a cron spec, e.g. "@every 5m" or "*/10 * * * *".
	Schedule string
}

// AuditConfig controls the audit trail
type AuditConfig struct {
	Enabled bool
	// Retention is how long stored audit events are kept. Zero keeps them.
	Retention time.Duration
	Workers   int
	QueueSize int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	routes, err := loadRoutesConfig()
	if err != nil {
		return nil, err
	}
	obs, err := loadObservabilityConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Routes:        routes,
		Bot:           loadBotConfig(),
		Observability: obs,
		Maintenance:   loadMaintenanceConfig(),
		Audit:         loadAuditConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
		DocsEnabled:     getEnvBool("GATEHOUSE_DOCS_ENABLED", true),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.Driver = getEnv("GATEHOUSE_DB_DRIVER", cfg.Driver)
	cfg.DSN = getEnv("GATEHOUSE_DB_DSN", cfg.DSN)
	if maxOpen := getEnvInt("GATEHOUSE_DB_MAX_OPEN_CONNS", 0); maxOpen > 0 {
		cfg.MaxOpenConns = maxOpen
	}
	if maxIdle := getEnvInt("GATEHOUSE_DB_MAX_IDLE_CONNS", 0); maxIdle > 0 {
		cfg.MaxIdleConns = maxIdle
	}
	cfg.ConnMaxLifetime = getEnvDuration("GATEHOUSE_DB_CONN_MAX_LIFETIME", cfg.ConnMaxLifetime)
	cfg.Timeout = getEnvDuration("GATEHOUSE_DB_TIMEOUT", cfg.Timeout)
	cfg.BusyTimeout = getEnvDuration("GATEHOUSE_DB_BUSY_TIMEOUT", cfg.BusyTimeout)

	cfg.RedisURL = getEnv("GATEHOUSE_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("GATEHOUSE_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("GATEHOUSE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	cfg.RedisKeyPrefix = getEnv("GATEHOUSE_REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)

	return cfg
}

// loadAuthConfig loads login and session settings from environment
func loadAuthConfig() AuthConfig {
	limiter := auth.DefaultLimiterConfig()
	if attempts := getEnvInt("GATEHOUSE_LOGIN_MAX_ATTEMPTS", 0); attempts > 0 {
		limiter.MaxAttempts = attempts
	}
	limiter.Window = getEnvDuration("GATEHOUSE_LOGIN_WINDOW", limiter.Window)

	return AuthConfig{
		SessionDuration:      getEnvDuration("GATEHOUSE_SESSION_DURATION", auth.DefaultSessionDuration),
		Limiter:              limiter,
		AllowLegacyPasswords: getEnvBool("GATEHOUSE_ALLOW_LEGACY_PASSWORDS", false),
		BcryptCost:           getEnvInt("GATEHOUSE_BCRYPT_COST", 0),
		CookieName:           getEnv("GATEHOUSE_COOKIE_NAME", rbac.DefaultCookieName),
		CookieSecure:         getEnvBool("GATEHOUSE_COOKIE_SECURE", true),
	}
}

// loadRoutesConfig loads route table settings from environment
func loadRoutesConfig() (RoutesConfig, error) {
	policy, err := rbac.ParseUndeclaredPolicy(strings.ToLower(getEnv("GATEHOUSE_UNDECLARED_ROUTES", "deny")))
	if err != nil {
		return RoutesConfig{}, err
	}

	return RoutesConfig{
		TablePath:        getEnv("GATEHOUSE_ROUTE_TABLE", ""),
		Exempt:           getEnvList("GATEHOUSE_EXEMPT_ROUTES", rbac.DefaultExemptRoutes),
		StrictRoutes:     getEnvBool("GATEHOUSE_STRICT_ROUTES", true),
		UndeclaredPolicy: policy,
	}, nil
}

// loadBotConfig loads bot-score thresholds from environment
func loadBotConfig() middleware.BotConfig {
	cfg := middleware.DefaultBotConfig()
	cfg.Window = getEnvDuration("GATEHOUSE_BOT_WINDOW", cfg.Window)
	if threshold := getEnvInt("GATEHOUSE_BOT_RATE_THRESHOLD", 0); threshold > 0 {
		cfg.RateThreshold = threshold
	}
	cfg.MinHumanGap = getEnvDuration("GATEHOUSE_BOT_MIN_GAP", cfg.MinHumanGap)
	if maxClients := getEnvInt("GATEHOUSE_BOT_MAX_CLIENTS", 0); maxClients > 0 {
		cfg.MaxClients = maxClients
	}
	cfg.IdleTTL = getEnvDuration("GATEHOUSE_BOT_IDLE_TTL", cfg.IdleTTL)
	cfg.TrustedProxies = getEnvList("GATEHOUSE_TRUSTED_PROXIES", nil)
	return cfg
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() (ObservabilityConfig, error) {
	level, err := observability.ParseLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info"))
	if err != nil {
		return ObservabilityConfig{}, err
	}

	return ObservabilityConfig{
		LogLevel:       level,
		LogFormat:      strings.ToLower(getEnv("GATEHOUSE_LOG_FORMAT", observability.FormatJSON)),
		MetricsEnabled: getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTel: observability.OTelConfig{
			Enabled:     getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
			Endpoint:    getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
			ServiceName: getEnv("GATEHOUSE_OTEL_SERVICE_NAME", observability.DefaultServiceName),
			Insecure:    getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
		},
	}, nil
}

// loadMaintenanceConfig loads the cleanup schedule from environment
func loadMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Enabled:  getEnvBool("GATEHOUSE_MAINTENANCE_ENABLED", true),
		Schedule: getEnv("GATEHOUSE_MAINTENANCE_SCHEDULE", "@every 5m"),
	}
}

// loadAuditConfig loads audit trail settings from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:   getEnvBool("GATEHOUSE_AUDIT_ENABLED", true),
		Retention: getEnvDuration("GATEHOUSE_AUDIT_RETENTION", 90*24*time.Hour),
		Workers:   getEnvInt("GATEHOUSE_AUDIT_WORKERS", 2),
		QueueSize: getEnvInt("GATEHOUSE_AUDIT_QUEUE_SIZE", 1024),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite3 or postgres)", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if c.Auth.SessionDuration <= 0 {
		return fmt.Errorf("session duration must be positive")
	}
	if c.Auth.Limiter.MaxAttempts <= 0 || c.Auth.Limiter.Window <= 0 {
		return fmt.Errorf("login limiter needs positive attempts and window")
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		return fmt.Errorf("bcrypt cost must be between 4 and 31")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("cookie name is required")
	}

	if c.Routes.UndeclaredPolicy != rbac.UndeclaredDeny && c.Routes.UndeclaredPolicy != rbac.UndeclaredAllow {
		return fmt.Errorf("invalid undeclared route policy: %s", c.Routes.UndeclaredPolicy)
	}

	if _, err := middleware.ParseTrustedProxies(c.Bot.TrustedProxies); err != nil {
		return err
	}

	switch c.Observability.LogFormat {
	case observability.FormatJSON, observability.FormatText:
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.OTel.Enabled && c.Observability.OTel.Endpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	if c.Maintenance.Enabled {
		if _, err := cron.ParseStandard(c.Maintenance.Schedule); err != nil {
			return fmt.Errorf("invalid maintenance schedule %q: %w", c.Maintenance.Schedule, err)
		}
	}

	if c.Audit.Enabled {
		if c.Audit.Retention < 0 {
			return fmt.Errorf("audit retention must not be negative")
		}
		if c.Audit.Workers <= 0 || c.Audit.QueueSize <= 0 {
			return fmt.Errorf("audit workers and queue size must be positive")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
