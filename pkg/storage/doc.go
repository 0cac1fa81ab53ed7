// Package storage holds the shared persistence configuration for gatehouse
// and the Redis client constructor.
//
// # Backends
//
// The relational store lives in storage/sqlstore and runs on either driver:
//
//	sqlite3   single node, WAL journal, busy timeout, foreign keys on
//	postgres  shared deployments, pooled via database/sql
//
// Redis is optional. When RedisURL is set the login limiter keeps its
// sliding window in Redis so every instance sees the same history.
//
// # Usage
//
//	cfg := storage.DefaultConfig()
//	cfg.Driver = storage.DriverPostgres
//	cfg.DSN = "postgres://gatehouse@localhost/gatehouse?sslmode=disable"
//
//	db, err := sqlstore.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := sqlstore.Migrate(ctx, db, logger); err != nil {
//		return err
//	}
//	store := sqlstore.New(db, sqlstore.WithLogger(logger))
//
//	if cfg.RedisEnabled() {
//		client, err := storage.NewRedisClient(ctx, cfg)
//		...
//	}
package storage
