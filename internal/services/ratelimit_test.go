package services

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/hyprec/internal/config"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   2, // Use test database
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRateLimitService_IsAllowed(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	limiter := NewRateLimitService(config.RateLimitConfig{Requests: 3, Window: time.Minute}, testLogger(), client)

	for i := 0; i < 3; i++ {
		allowed, info, err := limiter.IsAllowed(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 2-i, info.Remaining)
	}

	allowed, info, err := limiter.IsAllowed(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)

	// Other clients have their own window.
	allowed, _, err = limiter.IsAllowed(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimitService_Disabled(t *testing.T) {
	limiter := NewRateLimitService(config.RateLimitConfig{}, testLogger(), nil)

	allowed, info, err := limiter.IsAllowed(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Nil(t, info)
}
