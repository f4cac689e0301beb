package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Conference/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis is a fixed-window limiter shared by every server pointing at the
// same redis. Errors and a nil client let the attempt through.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window, prefix: "conference:join"}
}

// NewRedisFromURL parses a redis:// url. An empty url yields nil.
func NewRedisFromURL(url string, limit int, window time.Duration) (*Redis, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), limit, window), nil
}

func (l *Redis) Allow(ctx context.Context, uid domain.UserID) bool {
	if l == nil || l.client == nil || l.limit <= 0 {
		return true
	}
	key := fmt.Sprintf("%s:%s", l.prefix, uid)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("module", "ratelimit").Str("user", string(uid)).Msg("redis incr failed, allowing")
		return true
	}
	if count == 1 {
		l.client.Expire(ctx, key, l.window)
	}
	return int(count) <= l.limit
}

func (l *Redis) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
