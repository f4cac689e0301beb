package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewMemory(2, 10*time.Second)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "u1"))
	assert.True(t, rl.Allow(ctx, "u1"))
	assert.False(t, rl.Allow(ctx, "u1"))
	assert.True(t, rl.Allow(ctx, "u2"), "limits are per user")

	now = now.Add(11 * time.Second)
	assert.True(t, rl.Allow(ctx, "u1"))
}

func TestMemoryZeroLimitDisables(t *testing.T) {
	rl := NewMemory(0, time.Second)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow(context.Background(), "u1"))
	}
}

func TestRedisFailsOpen(t *testing.T) {
	var nilLimiter *Redis
	assert.True(t, nilLimiter.Allow(context.Background(), "u1"))

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	rl := NewRedis(client, 1, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(context.Background(), "u1"))
	}
}

func TestNewRedisFromURL(t *testing.T) {
	rl, err := NewRedisFromURL("", 1, time.Second)
	require.NoError(t, err)
	assert.Nil(t, rl)

	_, err = NewRedisFromURL("://bad", 1, time.Second)
	assert.Error(t, err)

	rl, err = NewRedisFromURL("redis://127.0.0.1:6379/0", 1, time.Second)
	require.NoError(t, err)
	require.NotNil(t, rl)
	assert.NoError(t, rl.Close())
}
