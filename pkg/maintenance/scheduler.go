package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SessionPurger deletes expired sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Cleaner drops stale in-memory state and reports how many entries went.
// auth.MemoryLimiter and middleware.BotScorer both satisfy it.
type Cleaner interface {
	Cleanup() int
}

// Pruner deletes persisted rows past a retention window, such as old
// audit events.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Report summarizes one maintenance run.
type Report struct {
	Purged  int64
	Pruned  map[string]int64
	Cleaned map[string]int
	Err     error
}

// Scheduler runs maintenance on a cron schedule.
type Scheduler struct {
	purger   SessionPurger
	pruners  map[string]Pruner
	cleaners map[string]Cleaner
	timeout  time.Duration
	now      func() time.Time
	metrics  *observability.Metrics
	log      logrus.FieldLogger

	mu      sync.Mutex
	cron    *cron.Cron
	lastErr error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCleaner adds named in-memory state to clean on every run.
func WithCleaner(name string, c Cleaner) Option {
	return func(s *Scheduler) { s.cleaners[name] = c }
}

// WithPruner adds a named retention job.
func WithPruner(name string, p Pruner) Option {
	return func(s *Scheduler) { s.pruners[name] = p }
}

// WithTimeout bounds a single run. Default 1m.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// WithClock sets the time used as "now" for the purge.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records purged session counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the scheduler logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

// NewScheduler creates a Scheduler. purger may be nil.
func NewScheduler(purger SessionPurger, opts ...Option) *Scheduler {
	s := &Scheduler{
		purger:   purger,
		pruners:  make(map[string]Pruner),
		cleaners: make(map[string]Cleaner),
		timeout:  time.Minute,
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce purges expired sessions, runs every pruner, then every cleaner.
// A failing step does not stop the others; the errors are joined.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	report := Report{
		Pruned:  make(map[string]int64, len(s.pruners)),
		Cleaned: make(map[string]int, len(s.cleaners)),
	}
	now := s.now()
	var errs []error

	if s.purger != nil {
		n, err := s.purger.PurgeExpiredSessions(ctx, now)
		if err != nil {
			s.log.WithError(err).Error("failed to purge expired sessions")
			errs = append(errs, fmt.Errorf("purge sessions: %w", err))
		} else {
			report.Purged = n
			s.metrics.RecordSessionsPurged(n)
		}
	}

	for _, name := range sortedKeys(s.pruners) {
		n, err := s.pruners[name].Prune(ctx, now)
		if err != nil {
			s.log.WithError(err).WithField("job", name).Error("retention job failed")
			errs = append(errs, fmt.Errorf("prune %s: %w", name, err))
			continue
		}
		report.Pruned[name] = n
	}

	for _, name := range sortedKeys(s.cleaners) {
		report.Cleaned[name] = s.cleaners[name].Cleanup()
	}
	report.Err = errors.Join(errs...)

	s.mu.Lock()
	s.lastErr = report.Err
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"purged_sessions": report.Purged,
		"pruned":          report.Pruned,
		"cleaned":         report.Cleaned,
	}).Debug("maintenance run complete")

	return report
}

// LastError is the error of the most recent run, nil before the first.
func (s *Scheduler) LastError(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start schedules RunOnce with a standard cron spec or descriptor such as
// "@every 5m".
func (s *Scheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}

	c.Start()
	s.cron = c
	s.log.WithField("schedule", schedule).Info("maintenance scheduler started")
	return nil
}

// Stop stops scheduling and waits for a running job, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
