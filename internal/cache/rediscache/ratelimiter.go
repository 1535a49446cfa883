package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const uploadKeyPrefix = "ratelimit:upload:"

type RateLimiter struct {
	c      *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(addr string, limit int64, window time.Duration) *RateLimiter {
	return NewRateLimiterFromClient(redis.NewClient(&redis.Options{Addr: addr}), limit, window)
}

func NewRateLimiterFromClient(c *redis.Client, limit int64, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{c: c, limit: limit, window: window}
}

// Allow делает INCR по ключу клиента и ставит TTL окна.
// Возвращает (allowed, currentCount). limit <= 0 отключает ограничение.
func (rl *RateLimiter) Allow(ctx context.Context, clientKey string) (bool, int64, error) {
	if rl.limit <= 0 {
		return true, 0, nil
	}
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, uploadKeyPrefix+clientKey)
	pipe.Expire(ctx, uploadKeyPrefix+clientKey, rl.window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= rl.limit, n, nil
}

func (rl *RateLimiter) Window() time.Duration {
	return rl.window
}
