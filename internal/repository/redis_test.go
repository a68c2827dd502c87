package repository

import (
	"context"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRoomLocker(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	locker := NewRedisRoomLocker(client, config.BookingConfig{
		LockWait: 100 * time.Millisecond,
		LockTTL:  time.Minute,
	})
	ctx := context.Background()

	t.Run("AcquireAndRelease", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, 1)
		require.NoError(t, err)
		assert.True(t, s.Exists("arbiter:room_lock:1"))

		ttl := s.TTL("arbiter:room_lock:1")
		assert.True(t, ttl > 0 && ttl <= time.Minute)

		unlock()
		assert.False(t, s.Exists("arbiter:room_lock:1"))
	})

	t.Run("Contended", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, 2)
		require.NoError(t, err)
		defer unlock()

		_, err = locker.Lock(ctx, 2)
		assert.ErrorIs(t, err, domain.ErrTimeout)
	})

	t.Run("WaitsForRelease", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, 3)
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			unlock()
		}()

		unlock2, err := locker.Lock(ctx, 3)
		require.NoError(t, err)
		unlock2()
	})

	t.Run("ReleaseKeepsForeignToken", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, 4)
		require.NoError(t, err)

		// Lease expired and another holder took the key.
		require.NoError(t, s.Set("arbiter:room_lock:4", "other-holder"))
		unlock()

		got, err := s.Get("arbiter:room_lock:4")
		require.NoError(t, err)
		assert.Equal(t, "other-holder", got)
	})

	t.Run("ExpiredLeaseIsReusable", func(t *testing.T) {
		_, err := locker.Lock(ctx, 5)
		require.NoError(t, err)

		s.FastForward(2 * time.Minute)

		unlock, err := locker.Lock(ctx, 5)
		require.NoError(t, err)
		unlock()
	})
}

func TestRedisRoomLocker_ServerDown(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	locker := NewRedisRoomLocker(client, config.BookingConfig{LockWait: time.Second})
	_, err = locker.Lock(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
}

func TestRedisRoomLocker_NilClient(t *testing.T) {
	locker := NewRedisRoomLocker(nil, config.BookingConfig{})
	_, err := locker.Lock(context.Background(), 1)
	assert.Error(t, err)
}

func TestRedisRoomLocker_RetryDelayDoublesUpToCap(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	locker := NewRedisRoomLocker(client, config.BookingConfig{LockWait: 300 * time.Millisecond, LockTTL: time.Minute})
	locker.pollMin = 10 * time.Millisecond
	locker.pollMax = 40 * time.Millisecond

	require.NoError(t, s.Set("arbiter:room_lock:9", "someone-else"))
	require.NoError(t, client.Ping(context.Background()).Err())
	before := s.CommandCount()

	_, err = locker.Lock(context.Background(), 9)
	require.ErrorIs(t, err, domain.ErrTimeout)

	// 10+20+40+40+... ms over 300ms is about nine attempts. Without the
	// cap it would be five, at a fixed 10ms about thirty.
	attempts := s.CommandCount() - before
	assert.GreaterOrEqual(t, attempts, 6)
	assert.LessOrEqual(t, attempts, 14)
}
