package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"cineai/internal/domain/model"
	"cineai/internal/infra/metrics"
)

// ConversationCache keeps the most recent messages of each conversation in a capped list.
// Push only appends to lists that were seeded from the database, so a cold key never
// holds a partial window.
type ConversationCache struct {
	cli    *redis.Client
	window int
	ttl    time.Duration
}

func NewConversationCache(c *Client, window int, ttl time.Duration) *ConversationCache {
	if window <= 0 {
		window = 10
	}
	return &ConversationCache{cli: c.cli, window: window, ttl: ttl}
}

func windowKey(id string) string { return "conv:" + id + ":window" }

func (c *ConversationCache) Window() int { return c.window }

func (c *ConversationCache) Recent(ctx context.Context, id string, limit int) ([]model.Message, bool, error) {
	if limit <= 0 || limit > c.window {
		limit = c.window
	}
	raw, err := c.cli.LRange(ctx, windowKey(id), int64(-limit), -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.IncCacheRequest("conversation", "error")
		return nil, false, err
	}
	if len(raw) == 0 {
		metrics.IncCacheRequest("conversation", "miss")
		return nil, false, nil
	}
	out := make([]model.Message, 0, len(raw))
	for _, r := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			metrics.IncCacheRequest("conversation", "error")
			return nil, false, err
		}
		out = append(out, m)
	}
	metrics.IncCacheRequest("conversation", "hit")
	return out, true, nil
}

// Seed replaces the cached window. Empty windows are not cached.
func (c *ConversationCache) Seed(ctx context.Context, id string, msgs []model.Message) error {
	key := windowKey(id)
	vals, err := encode(model.Window(msgs, c.window))
	if err != nil {
		return err
	}
	_, err = c.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		if len(vals) > 0 {
			p.RPush(ctx, key, vals...)
			p.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	return err
}

func (c *ConversationCache) Push(ctx context.Context, id string, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := windowKey(id)
	vals, err := encode(msgs)
	if err != nil {
		return err
	}
	_, err = c.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPushX(ctx, key, vals...)
		p.LTrim(ctx, key, int64(-c.window), -1)
		p.Expire(ctx, key, c.ttl)
		return nil
	})
	return err
}

func (c *ConversationCache) Drop(ctx context.Context, id string) error {
	return c.cli.Del(ctx, windowKey(id)).Err()
}

func encode(msgs []model.Message) ([]interface{}, error) {
	vals := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		vals = append(vals, b)
	}
	return vals, nil
}
