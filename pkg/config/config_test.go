package config

import (
	"testing"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("GH_TEST_STR", "custom")
	t.Setenv("GH_TEST_BOOL", "1")
	t.Setenv("GH_TEST_BOOL_FALSE", "no")
	t.Setenv("GH_TEST_INT", "42")
	t.Setenv("GH_TEST_INT_BAD", "forty")
	t.Setenv("GH_TEST_DUR", "90s")
	t.Setenv("GH_TEST_DUR_BAD", "soon")
	t.Setenv("GH_TEST_LIST", " /a, ,/b/* ,")

	assert.Equal(t, "custom", getEnv("GH_TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("GH_TEST_UNSET", "default"))

	assert.True(t, getEnvBool("GH_TEST_BOOL", false))
	assert.False(t, getEnvBool("GH_TEST_BOOL_FALSE", true))
	assert.True(t, getEnvBool("GH_TEST_UNSET", true))

	assert.Equal(t, 42, getEnvInt("GH_TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("GH_TEST_INT_BAD", 1))

	assert.Equal(t, 90*time.Second, getEnvDuration("GH_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("GH_TEST_DUR_BAD", time.Second))

	assert.Equal(t, []string{"/a", "/b/*"}, getEnvList("GH_TEST_LIST", nil))
	assert.Equal(t, []string{"/x"}, getEnvList("GH_TEST_UNSET", []string{"/x"}))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.True(t, cfg.Server.DocsEnabled)
	assert.Equal(t, storage.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "gatehouse.db", cfg.Storage.DSN)
	assert.False(t, cfg.Storage.RedisEnabled())

	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionDuration)
	assert.Equal(t, 5, cfg.Auth.Limiter.MaxAttempts)
	assert.Equal(t, 300*time.Second, cfg.Auth.Limiter.Window)
	assert.False(t, cfg.Auth.AllowLegacyPasswords)
	assert.Equal(t, rbac.DefaultCookieName, cfg.Auth.CookieName)
	assert.True(t, cfg.Auth.CookieSecure)

	assert.Equal(t, rbac.UndeclaredDeny, cfg.Routes.UndeclaredPolicy)
	assert.True(t, cfg.Routes.StrictRoutes)
	assert.Equal(t, rbac.DefaultExemptRoutes, cfg.Routes.Exempt)

	assert.Equal(t, 20, cfg.Bot.RateThreshold)
	assert.Equal(t, 10000, cfg.Bot.MaxClients)

	assert.Equal(t, logrus.InfoLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTel.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Observability.OTel.Endpoint)
	assert.Equal(t, "gatehouse", cfg.Observability.OTel.ServiceName)
	assert.True(t, cfg.Observability.OTel.Insecure)
	assert.Equal(t, "@every 5m", cfg.Maintenance.Schedule)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, 90*24*time.Hour, cfg.Audit.Retention)
	assert.Equal(t, 1024, cfg.Audit.QueueSize)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("GATEHOUSE_PORT", "8000")
	t.Setenv("GATEHOUSE_DB_DRIVER", "postgres")
	t.Setenv("GATEHOUSE_DB_DSN", "postgres://gatehouse@db/gatehouse")
	t.Setenv("GATEHOUSE_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("GATEHOUSE_REDIS_DB", "0")
	t.Setenv("GATEHOUSE_SESSION_DURATION", "30m")
	t.Setenv("GATEHOUSE_LOGIN_MAX_ATTEMPTS", "3")
	t.Setenv("GATEHOUSE_LOGIN_WINDOW", "1m")
	t.Setenv("GATEHOUSE_ALLOW_LEGACY_PASSWORDS", "true")
	t.Setenv("GATEHOUSE_UNDECLARED_ROUTES", "ALLOW")
	t.Setenv("GATEHOUSE_EXEMPT_ROUTES", "/,/health/*")
	t.Setenv("GATEHOUSE_BOT_RATE_THRESHOLD", "50")
	t.Setenv("GATEHOUSE_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")
	t.Setenv("GATEHOUSE_LOG_LEVEL", "debug")
	t.Setenv("GATEHOUSE_LOG_FORMAT", "text")
	t.Setenv("GATEHOUSE_MAINTENANCE_SCHEDULE", "*/10 * * * *")
	t.Setenv("GATEHOUSE_AUDIT_RETENTION", "720h")
	t.Setenv("GATEHOUSE_AUDIT_WORKERS", "4")
	t.Setenv("GATEHOUSE_OTEL_ENABLED", "true")
	t.Setenv("GATEHOUSE_OTEL_ENDPOINT", "otel-collector:4317")
	t.Setenv("GATEHOUSE_OTEL_INSECURE", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, storage.DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://gatehouse@db/gatehouse", cfg.Storage.DSN)
	assert.True(t, cfg.Storage.RedisEnabled())
	assert.Equal(t, 30*time.Minute, cfg.Auth.SessionDuration)
	assert.Equal(t, 3, cfg.Auth.Limiter.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Auth.Limiter.Window)
	assert.True(t, cfg.Auth.AllowLegacyPasswords)
	assert.Equal(t, rbac.UndeclaredAllow, cfg.Routes.UndeclaredPolicy)
	assert.Equal(t, []string{"/", "/health/*"}, cfg.Routes.Exempt)
	assert.Equal(t, 50, cfg.Bot.RateThreshold)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.Bot.TrustedProxies)
	assert.Equal(t, logrus.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "text", cfg.Observability.LogFormat)
	assert.Equal(t, 720*time.Hour, cfg.Audit.Retention)
	assert.Equal(t, 4, cfg.Audit.Workers)
	assert.True(t, cfg.Observability.OTel.Enabled)
	assert.Equal(t, "otel-collector:4317", cfg.Observability.OTel.Endpoint)
	assert.False(t, cfg.Observability.OTel.Insecure)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "policy", key: "GATEHOUSE_UNDECLARED_ROUTES", val: "maybe"},
		{name: "log level", key: "GATEHOUSE_LOG_LEVEL", val: "loud"},
		{name: "log format", key: "GATEHOUSE_LOG_FORMAT", val: "xml"},
		{name: "driver", key: "GATEHOUSE_DB_DRIVER", val: "oracle"},
		{name: "same ports", key: "GATEHOUSE_HEALTH_PORT", val: "8080"},
		{name: "schedule", key: "GATEHOUSE_MAINTENANCE_SCHEDULE", val: "whenever"},
		{name: "bcrypt cost", key: "GATEHOUSE_BCRYPT_COST", val: "40"},
		{name: "trusted proxy", key: "GATEHOUSE_TRUSTED_PROXIES", val: "proxy.internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port is required"},
		{name: "no health port", mutate: func(c *Config) { c.Server.HealthPort = "" }, wantErr: "health port is required"},
		{name: "no dsn", mutate: func(c *Config) { c.Storage.DSN = "" }, wantErr: "database DSN is required"},
		{name: "zero session", mutate: func(c *Config) { c.Auth.SessionDuration = 0 }, wantErr: "session duration"},
		{name: "zero attempts", mutate: func(c *Config) { c.Auth.Limiter.MaxAttempts = 0 }, wantErr: "login limiter"},
		{name: "no cookie", mutate: func(c *Config) { c.Auth.CookieName = "" }, wantErr: "cookie name"},
		{name: "bad policy", mutate: func(c *Config) { c.Routes.UndeclaredPolicy = "sometimes" }, wantErr: "undeclared route policy"},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.Bot.TrustedProxies = []string{"10.0.0.0/99"} }, wantErr: "invalid trusted proxy"},
		{
			name:    "otel without endpoint",
			mutate:  func(c *Config) { c.Observability.OTel.Enabled = true; c.Observability.OTel.Endpoint = "" },
			wantErr: "OpenTelemetry endpoint",
		},
		{name: "negative retention", mutate: func(c *Config) { c.Audit.Retention = -time.Hour }, wantErr: "audit retention"},
		{name: "no audit workers", mutate: func(c *Config) { c.Audit.Workers = 0 }, wantErr: "audit workers"},
		{name: "audit checks skipped when disabled", mutate: func(c *Config) { c.Audit.Enabled = false; c.Audit.Workers = 0 }},
		{
			name:   "schedule ignored when disabled",
			mutate: func(c *Config) { c.Maintenance.Enabled = false; c.Maintenance.Schedule = "never" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
