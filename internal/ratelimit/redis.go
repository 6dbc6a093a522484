package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisLimiter shares sliding windows across server instances. Each key is
// a sorted set of hit timestamps updated inside one MULTI transaction.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "notaryadmin:ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
	pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{Allowed: true, Limit: limit}, fmt.Errorf("redis rate limit: %w", err)
	}

	res := Result{Limit: limit, ResetAt: now.Add(window)}
	if z := oldest.Val(); len(z) > 0 {
		res.ResetAt = time.UnixMilli(int64(z[0].Score)).Add(window)
	}
	count := int(card.Val())
	if count > limit {
		// Denied hits do not count against the window.
		if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return res, fmt.Errorf("redis rate limit: %w", err)
		}
		return res, nil
	}
	res.Allowed = true
	res.Remaining = limit - count
	return res, nil
}
