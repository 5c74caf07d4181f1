package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*miniredis.Miniredis, Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisSlotLocker(client, time.Second)
}

func TestWithSlotLockRunsAndReleases(t *testing.T) {
	mr, locker := newLocker(t)
	key := SlotKey(uuid.New(), "2026-11-02", 5)

	ran := false
	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:slot:"+key))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:slot:"+key))
}

func TestWithSlotLockContended(t *testing.T) {
	_, locker := newLocker(t)
	key := SlotKey(uuid.New(), "2026-11-02", 5)

	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		inner := locker.WithSlotLock(ctx, key, func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithSlotLockPropagatesError(t *testing.T) {
	mr, locker := newLocker(t)
	key := SlotKey(uuid.New(), "2026-11-02", 1)
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:slot:"+key))
}

func TestReleaseLeavesForeignToken(t *testing.T) {
	mr, locker := newLocker(t)
	key := SlotKey(uuid.New(), "2026-11-02", 2)

	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		// Simulate expiry and takeover by another holder.
		require.NoError(t, mr.Set("lock:slot:"+key, "someone-else"))
		return nil
	})
	require.NoError(t, err)
	got, err := mr.Get("lock:slot:" + key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestNoopLocker(t *testing.T) {
	called := false
	require.NoError(t, NoopLocker().WithSlotLock(context.Background(), "k", func(ctx context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
