package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, opts ...LockerOption) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker, err := NewLocker(client, opts...)
	require.NoError(t, err)
	return locker, mr
}

func TestNewLocker_RequiresClient(t *testing.T) {
	_, err := NewLocker(nil)
	require.Error(t, err)
}

func TestLocker_TryLock(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "credit-expiration")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("lock:credit-expiration"))

	_, ok, err = locker.TryLock(ctx, "credit-expiration")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("lock:credit-expiration"))

	release, ok, err = locker.TryLock(ctx, "credit-expiration")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, release(ctx))
}

func TestLocker_ExpiredLockCanBeRetaken(t *testing.T) {
	locker, mr := newTestLocker(t, WithLockTTL(time.Second), WithKeyPrefix("jobs:"))
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "expire")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "expire")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Error(t, release(ctx), "releasing a lock that was taken over reports it")
}

func TestLocker_SingleWinner(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := locker.TryLock(ctx, "race")
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestLocker_RejectsEmptyName(t *testing.T) {
	locker, _ := newTestLocker(t)
	_, _, err := locker.TryLock(context.Background(), " ")
	require.Error(t, err)
}

func TestIsContention(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "acquire failed", err: redsync.ErrFailed, want: true},
		{name: "wrapped acquire failure", err: fmt.Errorf("lock: %w", redsync.ErrFailed), want: true},
		{name: "taken by another node", err: &redsync.ErrTaken{Nodes: []int{0}}, want: true},
		{name: "wrapped taken", err: fmt.Errorf("lock: %w", &redsync.ErrTaken{Nodes: []int{0}}), want: true},
		{name: "connection error", err: errors.New("dial tcp: connection refused"), want: false},
		{name: "lookalike message", err: errors.New("lock already taken"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isContention(tt.err))
		})
	}

	t.Run("redsync reports a held lock as contention", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		rs := redsync.New(goredis.NewPool(client))
		ctx := context.Background()

		holder := rs.NewMutex("lock:held", redsync.WithTries(1))
		require.NoError(t, holder.LockContext(ctx))

		err := rs.NewMutex("lock:held", redsync.WithTries(1)).LockContext(ctx)
		require.Error(t, err)
		assert.True(t, isContention(err))
	})
}
