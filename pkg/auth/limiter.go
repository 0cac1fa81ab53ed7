package auth

import (
	"context"
	"sync"
	"time"
)

// AttemptLimiter gates login attempts per key (username).
//
// Allow records the attempt whether or not it is allowed.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// LimiterConfig bounds attempts within a sliding window.
type LimiterConfig struct {
	// MaxAttempts is how many attempts may already sit in the window for a
	// new attempt to be allowed.
	MaxAttempts int
	Window      time.Duration
}

// DefaultLimiterConfig allows five attempts per five minutes.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxAttempts: 5,
		Window:      300 * time.Second,
	}
}

// MemoryLimiter keeps attempt timestamps in process memory. State is lost on
// restart and is not shared between instances; use RedisLimiter for that.
type MemoryLimiter struct {
	config   LimiterConfig
	now      func() time.Time
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewMemoryLimiter creates an in-memory sliding window limiter. A nil now
// uses time.Now.
func NewMemoryLimiter(config LimiterConfig, now func() time.Time) *MemoryLimiter {
	if config.MaxAttempts <= 0 || config.Window <= 0 {
		config = DefaultLimiterConfig()
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		config:   config,
		now:      now,
		attempts: make(map[string][]time.Time),
	}
}

// Allow prunes attempts older than the window, decides, then records now.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.attempts[key], cutoff)
	allowed := len(kept) < l.config.MaxAttempts
	l.attempts[key] = append(kept, now)

	return allowed, nil
}

// Attempts returns the number of attempts for key inside the window.
func (l *MemoryLimiter) Attempts(key string) int {
	cutoff := l.now().Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	return len(prune(l.attempts[key], cutoff))
}

// Cleanup drops keys whose attempts have all left the window and returns how
// many were removed.
func (l *MemoryLimiter) Cleanup() int {
	cutoff := l.now().Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, attempts := range l.attempts {
		kept := prune(attempts, cutoff)
		if len(kept) == 0 {
			delete(l.attempts, key)
			removed++
			continue
		}
		l.attempts[key] = kept
	}
	return removed
}

// prune keeps the timestamps strictly after cutoff. Timestamps are appended
// in order so the kept entries are a suffix.
func prune(attempts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return attempts
	}
	kept := make([]time.Time, len(attempts)-i)
	copy(kept, attempts[i:])
	return kept
}
