package storage

import "time"

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config for storage backends
type Config struct {
	// Database config
	Driver          string // "sqlite3" or "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Timeout         time.Duration
	BusyTimeout     time.Duration // sqlite3 only

	// Redis config. An empty RedisURL disables Redis.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisKeyPrefix  string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "gatehouse.db",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		Timeout:         10 * time.Second,
		BusyTimeout:     5 * time.Second,
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		RedisKeyPrefix:  "gatehouse",
	}
}

// RedisEnabled reports whether a Redis URL is configured.
func (c Config) RedisEnabled() bool {
	return c.RedisURL != ""
}
