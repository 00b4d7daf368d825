package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableRedis points at a port nothing listens on
func unreachableRedis(t *testing.T) *RedisClient {
	t.Helper()
	client := NewRedisDB(&RedisConfig{
		Host:    "127.0.0.1",
		Port:    1,
		Timeout: 200 * time.Millisecond,
	}, nil)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisClient_EntersDegradedModeWhenUnreachable(t *testing.T) {
	client := unreachableRedis(t)
	ctx := context.Background()

	assert.False(t, client.IsDegraded())

	err := client.HealthCheck(ctx)
	require.Error(t, err)
	assert.True(t, client.IsDegraded())

	assert.ErrorIs(t, client.SafeSet(ctx, "k", "v", time.Minute).Err(), ErrRedisDegraded)
	assert.ErrorIs(t, client.SafeDel(ctx, "k").Err(), ErrRedisDegraded)
	assert.ErrorIs(t, client.SafePublish(ctx, "call:user:u1", "{}").Err(), ErrRedisDegraded)
	assert.ErrorIs(t, client.SafeIncr(ctx, "k").Err(), ErrRedisDegraded)
	assert.ErrorIs(t, client.SafeExpire(ctx, "k", time.Minute).Err(), ErrRedisDegraded)
	assert.ErrorIs(t, client.SafeSAdd(ctx, "s", "m").Err(), ErrRedisDegraded)
	assert.ErrorIs(t, client.SafeSRem(ctx, "s", "m").Err(), ErrRedisDegraded)
	assert.ErrorIs(t, client.SafeExists(ctx, "k").Err(), ErrRedisDegraded)
	assert.ErrorIs(t, client.SafeSCard(ctx, "s").Err(), ErrRedisDegraded)
	assert.Nil(t, client.SafePSubscribe(ctx, "call:user:*"))
}

func TestRedisClient_HealthCheckStopsWithContext(t *testing.T) {
	client := unreachableRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	client.StartHealthCheck(ctx, 10*time.Millisecond)

	assert.Eventually(t, client.IsDegraded, 2*time.Second, 10*time.Millisecond)
	cancel()
}
