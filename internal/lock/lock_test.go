package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return client, mr
}

func assertMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "restaurant:r1:pending")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				current := atomic.LoadInt32(&maxInside)
				if n <= current || atomic.CompareAndSwapInt32(&maxInside, current, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalMutualExclusion(t *testing.T) {
	assertMutualExclusion(t, NewLocal())
}

func TestLocalAcquireHonoursContext(t *testing.T) {
	locker := NewLocal()
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrNotAcquired)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locker.Acquire(context.Background(), "other")
	require.NoError(t, err)
	other()
}

func TestLocalReleaseIsIdempotent(t *testing.T) {
	locker := NewLocal()
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
	release()

	again, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
	assert.Empty(t, locker.slots)
}

func TestRedisMutualExclusion(t *testing.T) {
	client, _ := setupTestRedis(t)
	assertMutualExclusion(t, NewRedis(client, time.Second))
}

func TestRedisAcquireTimesOutWhileHeld(t *testing.T) {
	client, _ := setupTestRedis(t)
	locker := NewRedis(client, time.Second)

	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
	again, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func TestRedisReleaseKeepsForeignLock(t *testing.T) {
	client, mr := setupTestRedis(t)
	locker := NewRedis(client, time.Second)

	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)

	// the lock expired and someone else took it over
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("tablebill:lock:k", "someone-else"))

	release()
	value, err := mr.Get("tablebill:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}
