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

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestWithBookingLockRunsAndReleases(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewBookingLocker(rdb, 5*time.Second)
	id := uuid.New()

	ran := false
	err := locker.WithBookingLock(context.Background(), id, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:booking:"+id.String()))
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:booking:"+id.String()))
}

func TestWithBookingLockContended(t *testing.T) {
	_, rdb := newTestClient(t)
	locker := NewBookingLocker(rdb, 5*time.Second)
	id := uuid.New()

	err := locker.WithBookingLock(context.Background(), id, func(ctx context.Context) error {
		inner := locker.WithBookingLock(ctx, id, func(context.Context) error {
			t.Fatal("nested holder must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
}

func TestWithBookingLockPropagatesErrorAndReleases(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewBookingLocker(rdb, 5*time.Second)
	id := uuid.New()
	boom := errors.New("boom")

	err := locker.WithBookingLock(context.Background(), id, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:booking:"+id.String()))
}

func TestReleaseKeepsForeignToken(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewBookingLocker(rdb, 5*time.Second).(*bookingLocker)
	key := "lock:booking:x"
	require.NoError(t, mr.Set(key, "someone-else"))

	require.NoError(t, locker.release(context.Background(), key, "mine"))
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestLockExpires(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewBookingLocker(rdb, time.Second)
	id := uuid.New()

	require.NoError(t, locker.WithBookingLock(context.Background(), id, func(context.Context) error {
		mr.FastForward(2 * time.Second)
		return nil
	}))

	require.NoError(t, locker.WithBookingLock(context.Background(), id, func(context.Context) error { return nil }))
}

func TestWithBookingLockStoreDown(t *testing.T) {
	mr, rdb := newTestClient(t)
	locker := NewBookingLocker(rdb, 5*time.Second)
	mr.SetError("LOADING Redis is loading the dataset in memory")

	ran := false
	err := locker.WithBookingLock(context.Background(), uuid.New(), func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, ran)
}
