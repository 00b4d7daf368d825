package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"junction-backend/internal/database"
)

func newDegradedClient(t *testing.T) *database.RedisClient {
	t.Helper()
	client := database.NewRedisDB(&database.RedisConfig{
		Host:    "127.0.0.1",
		Port:    1,
		Timeout: 200 * time.Millisecond,
	}, nil)
	t.Cleanup(func() { client.Close() })
	require.Error(t, client.HealthCheck(context.Background()))
	return client
}

func TestPresenceRepository_DegradedFailsFast(t *testing.T) {
	repo := NewPresenceRepository(newDegradedClient(t))
	ctx := context.Background()

	assert.True(t, repo.IsDegraded())
	assert.ErrorIs(t, repo.SetUserOnline(ctx, "alice"), database.ErrRedisDegraded)
	assert.ErrorIs(t, repo.RefreshPresence(ctx, "alice"), database.ErrRedisDegraded)
	assert.ErrorIs(t, repo.SetUserOffline(ctx, "alice"), database.ErrRedisDegraded)

	online, err := repo.IsUserOnline(ctx, "alice")
	assert.ErrorIs(t, err, database.ErrRedisDegraded)
	assert.False(t, online)

	count, err := repo.GetOnlineCount(ctx)
	assert.ErrorIs(t, err, database.ErrRedisDegraded)
	assert.Zero(t, count)
}

func TestPresenceKey(t *testing.T) {
	assert.Equal(t, "presence:alice", presenceKey("alice"))
}
