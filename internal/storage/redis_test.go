package storage

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// setupTestRedis connects to a local Redis on a scratch DB and skips the
// test when none is running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	s := NewRedisStoreWithClient(client, "test:", logger.NewNop())

	key := domain.CacheKey{5}
	require.NoError(t, s.Put(ctx, key, testEntry(key, "shared", time.Now())))

	ttl, err := client.TTL(ctx, "test:"+key.String()).Result()
	require.NoError(t, err)
	assert.InDelta(t, (2 * time.Hour).Seconds(), ttl.Seconds(), 5)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "shared", string(got.Body))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Purge(ctx, key))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStoreSkipsExpiredEntries(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	s := NewRedisStoreWithClient(client, "test:", logger.NewNop())

	key := domain.CacheKey{6}
	require.NoError(t, s.Put(ctx, key, testEntry(key, "old", time.Now().Add(-3*time.Hour))))

	n, err := client.Exists(ctx, "test:"+key.String()).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "entries past grace are never written")
}

func TestRedisStoreKeyExpiryCoversRetention(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	s := NewRedisStoreWithClient(client, "test:", logger.NewNop())

	key := domain.CacheKey{7}
	entry := testEntry(key, "stale", time.Now().Add(-70*time.Second))
	entry.TTL = time.Minute
	entry.Grace = 5 * time.Second
	entry.Retain = 20 * time.Second
	require.NoError(t, s.Put(ctx, key, entry))

	ttl, err := client.TTL(ctx, "test:"+key.String()).Result()
	require.NoError(t, err)
	assert.InDelta(t, (10 * time.Second).Seconds(), ttl.Seconds(), 2)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
