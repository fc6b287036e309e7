package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/reflex/internal/lock"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLocker_MutualExclusionAcrossInstances(t *testing.T) {
	_, client := newTestClient(t)
	a := New(client, time.Minute)
	b := New(client, time.Minute)
	key := lock.KeyFor("nightly-digest")
	ctx := context.Background()

	ok, err := a.TryAcquire(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryAcquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a held key")

	require.NoError(t, a.Release(ctx, key))

	ok, err = b.TryAcquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "key should be free after release")
	require.NoError(t, b.Release(ctx, key))
}

func TestLocker_ReleaseDoesNotStealTakenOverLock(t *testing.T) {
	mr, client := newTestClient(t)
	a := New(client, time.Second).WithRefreshInterval(time.Hour)
	b := New(client, time.Minute)
	key := int64(7)
	ctx := context.Background()

	ok, err := a.TryAcquire(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = b.TryAcquire(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	// a's token no longer matches; the key must survive.
	require.NoError(t, a.Release(ctx, key))
	assert.True(t, mr.Exists(redisKey(key)))
}

func TestLocker_RefreshKeepsLongRunningHolder(t *testing.T) {
	mr, client := newTestClient(t)
	a := New(client, 5*time.Minute).WithRefreshInterval(10 * time.Millisecond)
	b := New(client, 5*time.Minute)
	key := int64(7)
	ctx := context.Background()

	ok, err := a.TryAcquire(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(4 * time.Minute)
	require.Eventually(t, func() bool {
		return mr.TTL(redisKey(key)) > 4*time.Minute
	}, time.Second, 5*time.Millisecond, "lease should be extended back to the full ttl")

	mr.FastForward(4 * time.Minute)

	ok, err = b.TryAcquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "holder past the original ttl must keep the lock")

	require.NoError(t, a.Release(ctx, key))
	assert.False(t, mr.Exists(redisKey(key)))

	ok, err = b.TryAcquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx, key))
}

func TestLocker_ReleaseUnheldIsNoop(t *testing.T) {
	_, client := newTestClient(t)
	l := New(client, time.Minute)
	assert.NoError(t, l.Release(context.Background(), 99))
}

func TestLocker_BackendError(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	l := New(client, time.Minute)
	ok, err := l.TryAcquire(context.Background(), 1)
	assert.False(t, ok)
	assert.Error(t, err)
}
