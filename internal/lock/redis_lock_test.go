package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, "test:lock:", 30*time.Second), mr
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()

	lock := locker.NewLock("scan")
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("test:lock:scan"))

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("test:lock:scan"))
}

func TestRedisLock_AcquireContended(t *testing.T) {
	locker, _ := setupLocker(t)
	ctx := context.Background()

	first := locker.NewLock("scan")
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	second := locker.NewLock("scan")
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

// 非持有者不能释放或续期
func TestRedisLock_ReleaseNotHeld(t *testing.T) {
	locker, _ := setupLocker(t)
	ctx := context.Background()

	holder := locker.NewLock("scan")
	ok, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	intruder := locker.NewLock("scan")
	assert.ErrorIs(t, intruder.Release(ctx), ErrLockNotHeld)
	assert.ErrorIs(t, intruder.Extend(ctx, time.Minute), ErrLockNotHeld)

	// 持有者自身可以续期
	assert.NoError(t, holder.Extend(ctx, time.Minute))
}

func TestRedisLock_ExpiresAutomatically(t *testing.T) {
	locker, mr := setupLocker(t)
	ctx := context.Background()

	lock := locker.NewLock("scan")
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	other := locker.NewLock("scan")
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_WithLock(t *testing.T) {
	locker, _ := setupLocker(t)
	ctx := context.Background()

	executed := false
	err := locker.WithLock(ctx, "cycle", func(ctx context.Context) error {
		executed = true

		// 执行期间锁被占用
		inner := locker.WithLock(ctx, "cycle", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockAcquireFailed)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, executed)

	// 执行结束后锁已释放
	err = locker.WithLock(ctx, "cycle", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}
