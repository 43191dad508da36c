package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "finance:rate_limit"

// RedisRateLimiter counts hits in wall-clock aligned windows so every replica
// agrees on when a window resets. Each window gets its own key, which expires
// shortly after the window closes.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// ConsumeRateLimit records one hit for subject under scope and returns the
// hits so far in the current window and the seconds until the window resets.
// A nil limiter, nil client or non-positive limit never limits.
func (r *RedisRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}
	if window < time.Second {
		window = time.Second
	}

	now := r.now()
	start, reset := windowBounds(now, window)
	key := rateLimitKey(r.prefix, scope, subject, start)

	var hits *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, key)
		pipe.PExpireAt(ctx, key, reset.Add(time.Second))
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return int(hits.Val()), secondsUntil(now, reset), nil
}

// windowBounds returns the start and end of the window containing now.
func windowBounds(now time.Time, window time.Duration) (start, reset time.Time) {
	start = now.UTC().Truncate(window)
	return start, start.Add(window)
}

func rateLimitKey(prefix, scope, subject string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", prefix, scope, subject, start.Unix())
}

// secondsUntil rounds up and never returns less than one.
func secondsUntil(now, reset time.Time) int {
	d := reset.Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
