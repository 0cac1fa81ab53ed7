package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// GetMigrations returns all schema migrations in order. Types are chosen to
// mean the same thing on sqlite3 and postgres; timestamps are Unix millis.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create accounts table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS accounts (
					username      TEXT PRIMARY KEY,
					password_hash TEXT NOT NULL,
					arrested      BOOLEAN NOT NULL DEFAULT FALSE,
					created_at    BIGINT NOT NULL,
					updated_at    BIGINT NOT NULL
				)`,
			},
		},
		{
			Version:     2,
			Description: "Create sessions table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS sessions (
					token_hash TEXT PRIMARY KEY,
					username   TEXT NOT NULL REFERENCES accounts(username),
					created_at BIGINT NOT NULL,
					expires_at BIGINT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_sessions_username ON sessions(username)`,
				`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
			},
		},
		{
			Version:     3,
			Description: "Create revoked_tokens table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS revoked_tokens (
					token_hash TEXT PRIMARY KEY,
					revoked_at BIGINT NOT NULL
				)`,
			},
		},
		{
			Version:     4,
			Description: "Create permission_grants table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS permission_grants (
					username   TEXT NOT NULL REFERENCES accounts(username),
					permission TEXT NOT NULL,
					allowed    BOOLEAN NOT NULL,
					updated_at BIGINT NOT NULL,
					PRIMARY KEY (username, permission)
				)`,
			},
		},
		{
			Version:     5,
			Description: "Create audit_events table",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS audit_events (
					id          TEXT PRIMARY KEY,
					occurred_at BIGINT NOT NULL,
					event_type  TEXT NOT NULL,
					status      TEXT NOT NULL,
					actor       TEXT NOT NULL DEFAULT '',
					target      TEXT NOT NULL DEFAULT '',
					ip_address  TEXT NOT NULL DEFAULT '',
					request_id  TEXT NOT NULL DEFAULT '',
					message     TEXT NOT NULL DEFAULT '',
					metadata    TEXT
				)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_occurred_at ON audit_events(occurred_at)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_target ON audit_events(target)`,
			},
		},
	}
}

// Migrate applies pending migrations, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  BIGINT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("applied migration")
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	for _, stmt := range migration.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
		migration.Version, migration.Description, time.Now().UnixMilli(),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
