package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "stride:ratelimit:"

// acquireScript performs the window roll-or-increment atomically on the
// server, mirroring the SQL backend's single-statement semantics. Keys expire
// at twice the window so idle keys clean themselves up.
var acquireScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])

	local start = tonumber(redis.call('HGET', key, 'window_start'))
	local count

	if not start or now >= start + window then
		start = now
		count = 1
		redis.call('HSET', key, 'window_start', start, 'count', 1, 'limit', limit, 'window_seconds', window)
	else
		count = redis.call('HINCRBY', key, 'count', 1)
		redis.call('HSET', key, 'limit', limit, 'window_seconds', window)
	end

	redis.call('EXPIRE', key, window * 2)

	return {count, start}
`)

// RedisLimiter is the fleet backend: quota state lives in a shared Redis so
// every host observes one consistent count per key.
type RedisLimiter struct {
	client redis.UniversalClient
	logger *slog.Logger
	now    func() time.Time
}

func NewRedisLimiter(ctx context.Context, logger *slog.Logger, redisURL string) (*RedisLimiter, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisLimiterWithClient(client, logger), nil
}

// NewRedisLimiterWithClient wraps an existing client, useful for tests and
// shared pools.
func NewRedisLimiterWithClient(client redis.UniversalClient, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		logger: logger.With("module", "redis_rate_limiter"),
		now:    time.Now,
	}
}

func (l *RedisLimiter) Acquire(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now().UTC()
	windowSeconds := int(window / time.Second)

	raw, err := acquireScript.Run(ctx, l.client,
		[]string{redisKeyPrefix + key},
		now.Unix(), limit, windowSeconds,
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("failed to acquire slot for key %q: %w: %w", key, ErrStoreUnavailable, err)
	}

	count, windowStart, err := parseAcquireReply(raw)
	if err != nil {
		return Result{}, fmt.Errorf("unexpected acquire reply for key %q: %w: %w", key, ErrStoreUnavailable, err)
	}

	return resultFor(count, limit, windowStart, window, now), nil
}

func parseAcquireReply(raw []any) (int, time.Time, error) {
	if len(raw) != 2 {
		return 0, time.Time{}, fmt.Errorf("expected 2 values, got %d", len(raw))
	}

	count, ok := raw[0].(int64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("count has type %T", raw[0])
	}

	start, ok := raw[1].(int64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("window_start has type %T", raw[1])
	}

	return int(count), time.Unix(start, 0).UTC(), nil
}

func (l *RedisLimiter) Current(ctx context.Context, key string) (int, error) {
	fields, err := l.client.HMGet(ctx, redisKeyPrefix+key, "count", "window_start", "window_seconds").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read count for key %q: %w: %w", key, ErrStoreUnavailable, err)
	}

	count := parseRedisInt(fields[0])
	windowStart := parseRedisInt(fields[1])
	windowSeconds := parseRedisInt(fields[2])

	if count == 0 || l.now().UTC().Unix() >= windowStart+windowSeconds {
		return 0, nil
	}

	return int(count), nil
}

func parseRedisInt(field any) int64 {
	s, ok := field.(string)
	if !ok {
		return 0
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}

	return value
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	err := l.client.Del(ctx, redisKeyPrefix+key).Err()
	if err != nil {
		return fmt.Errorf("failed to reset key %q: %w: %w", key, ErrStoreUnavailable, err)
	}

	return nil
}

// CleanupExpired scans the key prefix and removes records whose window
// started before the cutoff. Redis also expires keys on its own; this exists
// so all backends honor the same contract.
func (l *RedisLimiter) CleanupExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := l.now().UTC().Add(-olderThan).Unix()
	removed := 0

	iter := l.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		startField, err := l.client.HGet(ctx, key, "window_start").Result()
		if err != nil {
			continue
		}

		start, err := strconv.ParseInt(startField, 10, 64)
		if err != nil || start >= cutoff {
			continue
		}

		if l.client.Del(ctx, key).Err() == nil {
			removed++
		}
	}

	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan rate limit keys: %w: %w", ErrStoreUnavailable, err)
	}

	return removed, nil
}

// Close closes the underlying client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
