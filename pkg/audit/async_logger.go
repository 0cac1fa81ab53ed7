package audit

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/async"
	"github.com/sirupsen/logrus"
)

// AsyncConfig sizes an AsyncLogger.
type AsyncConfig struct {
	Workers         int
	QueueSize       int
	Timeout         time.Duration
	ShutdownTimeout time.Duration
}

// DefaultAsyncConfig returns the defaults used by the server.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		Workers:         2,
		QueueSize:       1024,
		Timeout:         5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// AsyncLogger hands events to a worker pool so request handlers never wait
// on the sink. When the queue is full the event is dropped and logged.
type AsyncLogger struct {
	next     Logger
	pool     *async.WorkerPool
	shutdown time.Duration
	log      logrus.FieldLogger
}

// NewAsyncLogger wraps next.
func NewAsyncLogger(next Logger, cfg AsyncConfig, log logrus.FieldLogger) *AsyncLogger {
	def := DefaultAsyncConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &AsyncLogger{
		next:     next,
		pool:     async.NewWorkerPool(context.Background(), cfg.Workers, cfg.QueueSize, "audit", cfg.Timeout, log),
		shutdown: cfg.ShutdownTimeout,
		log:      log,
	}
}

// Log queues a copy of event. The request context is not used for delivery
// since it ends with the response.
func (l *AsyncLogger) Log(ctx context.Context, event *Event) error {
	queued := *event
	if queued.Timestamp.IsZero() {
		queued.Timestamp = time.Now().UTC()
	}

	err := l.pool.TrySubmit(func(ctx context.Context) error {
		return l.next.Log(ctx, &queued)
	})
	if errors.Is(err, async.ErrQueueFull) {
		l.log.WithField("event_type", string(event.Type)).Warn("audit queue full, dropping event")
	}
	return err
}

// Close drains queued events and closes the wrapped logger.
func (l *AsyncLogger) Close() error {
	return errors.Join(l.pool.Shutdown(l.shutdown), l.next.Close())
}

// Failed returns how many deliveries failed in the wrapped logger.
func (l *AsyncLogger) Failed() int64 {
	return l.pool.Failed()
}
