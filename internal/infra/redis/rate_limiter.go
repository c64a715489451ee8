package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	cli *redis.Client
	now func() time.Time
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{cli: c.cli, now: time.Now}
}

// Allow counts one hit against key in the current window and reports whether it is within limit.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	bucket := r.now().UnixNano() / int64(window)
	k := "rate_limit:" + key + ":" + strconv.FormatInt(bucket, 10)

	var incr *redis.IntCmd
	_, err := r.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}

// UserKey scopes a limit to one user and route group.
func UserKey(userID, group string) string {
	return "user:" + userID + ":" + group
}
