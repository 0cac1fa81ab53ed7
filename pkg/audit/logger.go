package audit

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Logger is the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// Reader queries stored events, newest first.
type Reader interface {
	Query(ctx context.Context, filter Filter) ([]*Event, error)
}

// Discard drops every event.
var Discard Logger = discard{}

type discard struct{}

func (discard) Log(ctx context.Context, event *Event) error { return nil }
func (discard) Close() error                                { return nil }

// LogrusLogger writes events as structured log entries with audit=true.
type LogrusLogger struct {
	log logrus.FieldLogger
}

// NewLogrusLogger creates a LogrusLogger.
func NewLogrusLogger(log logrus.FieldLogger) *LogrusLogger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogrusLogger{log: log}
}

// Log emits the event at info level. Denied and failed events are warnings.
func (l *LogrusLogger) Log(ctx context.Context, event *Event) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.Type),
		"status":     string(event.Status),
	}
	for key, value := range map[string]string{
		"actor":      event.Actor,
		"target":     event.Target,
		"ip_address": event.IPAddress,
		"request_id": event.RequestID,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	for key, value := range event.Metadata {
		fields["meta."+key] = value
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.Type)
	}

	entry := l.log.WithFields(fields)
	if event.Status == StatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close is a no-op.
func (l *LogrusLogger) Close() error { return nil }

// MultiLogger logs to several loggers in order. Every logger sees every
// event even when an earlier one fails.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log writes event to every logger and joins their errors.
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every logger and joins their errors.
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
