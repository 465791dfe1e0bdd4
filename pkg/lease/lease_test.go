package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlways(t *testing.T) {
	var l Lease = Always{}
	held, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, held)
	assert.NoError(t, l.Release(context.Background()))
}

func TestNewRedisLease_UniqueOwners(t *testing.T) {
	a := NewRedisLease(nil, "k", time.Second)
	b := NewRedisLease(nil, "k", time.Second)
	assert.NotEqual(t, a.Owner(), b.Owner())
}

// TestRedisLease_Integration requires a running Redis at REDIS_ADDR.
func TestRedisLease_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis integration test: REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping Redis integration test: %v", err)
	}

	key := "mintmodifier:test:lease:" + uuid.NewString()
	defer client.Del(ctx, key)

	a := NewRedisLease(client, key, 500*time.Millisecond)
	b := NewRedisLease(client, key, 500*time.Millisecond)

	held, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	held, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, held, "second owner must not take a held lease")

	held, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held, "owner renews its own lease")

	assert.ErrorIs(t, b.Release(ctx), ErrNotHeld)
	require.NoError(t, a.Release(ctx))

	held, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held, "released lease is free")

	time.Sleep(700 * time.Millisecond)
	held, err = a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, held, "expired lease is free")
}
