package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DBLogger stores events in the audit_events table created by the sqlstore
// migrations. Queries use $N placeholders, which both sqlite3 and postgres
// accept.
type DBLogger struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// NewDBLogger creates a database-backed audit logger. Events older than
// retention are removed by Prune; zero keeps them forever.
func NewDBLogger(db *sql.DB, retention time.Duration) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db, retention: retention, now: time.Now}, nil
}

// Log inserts event, assigning its ID and, if unset, its timestamp.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, occurred_at, event_type, status,
			actor, target, ip_address, request_id,
			message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.Timestamp.UnixMilli(), string(event.Type), string(event.Status),
		event.Actor, event.Target, event.IPAddress, event.RequestID,
		event.Message, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Query returns events matching filter, newest first.
func (l *DBLogger) Query(ctx context.Context, filter Filter) ([]*Event, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.Target != "" {
		add("target = $%d", filter.Target)
	}
	if filter.Type != "" {
		add("event_type = $%d", string(filter.Type))
	}
	if !filter.Since.IsZero() {
		add("occurred_at >= $%d", filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		add("occurred_at < $%d", filter.Until.UnixMilli())
	}

	query := `SELECT id, occurred_at, event_type, status, actor, target,
		ip_address, request_id, message, metadata FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			event      Event
			occurredAt int64
			eventType  string
			status     string
			metadata   sql.NullString
		)
		if err := rows.Scan(&event.ID, &occurredAt, &eventType, &status, &event.Actor, &event.Target,
			&event.IPAddress, &event.RequestID, &event.Message, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Timestamp = time.UnixMilli(occurredAt).UTC()
		event.Type = EventType(eventType)
		event.Status = Status(status)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", event.ID, err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the retention window.
func (l *DBLogger) Prune(ctx context.Context, now time.Time) (int64, error) {
	if l.retention <= 0 {
		return 0, nil
	}
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`,
		now.Add(-l.retention).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op; the database is owned by the caller.
func (l *DBLogger) Close() error { return nil }
