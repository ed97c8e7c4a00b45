//go:build integration

package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisLock_Integration(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	a := NewRedisLock(client, "vigia:test", 900*time.Millisecond, nil)
	b := NewRedisLock(client, "vigia:test", 900*time.Millisecond, nil)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// the refresher keeps the lease past its ttl
	time.Sleep(2 * time.Second)
	assert.True(t, a.Held())
	ok, _ = b.TryAcquire(ctx)
	assert.False(t, ok)

	// releasing with someone else's token is a no-op
	require.NoError(t, b.Release(ctx))
	assert.Equal(t, int64(1), client.Exists(ctx, "vigia:test").Val())

	require.NoError(t, a.Release(ctx))
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx))
}
