package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisLimiter implements the sliding window on a Redis sorted set per key so
// attempt history is shared across instances. Scores are Unix microseconds.
type RedisLimiter struct {
	client *redis.Client
	config LimiterConfig
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, config LimiterConfig, prefix string, now func() time.Time) *RedisLimiter {
	if config.MaxAttempts <= 0 || config.Window <= 0 {
		config = DefaultLimiterConfig()
	}
	if prefix == "" {
		prefix = "gatehouse:login"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{
		client: client,
		config: config,
		prefix: prefix,
		now:    now,
	}
}

// Allow prunes, counts, and records in one MULTI/EXEC. On a Redis error the
// attempt is denied and the error returned.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.key(key)
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff.UnixMicro(), 10))
	count := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: strconv.FormatInt(now.UnixMicro(), 10) + "-" + uuid.NewString(),
	})
	pipe.PExpire(ctx, redisKey, l.config.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}

	return count.Val() < int64(l.config.MaxAttempts), nil
}

// Reset clears the attempt history for a key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.key(key)).Err()
}

func (l *RedisLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}
