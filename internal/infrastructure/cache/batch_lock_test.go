package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dealsync/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestInMemoryBatchLocker_Obtain(t *testing.T) {
	ctx := context.Background()

	t.Run("second obtain fails while held", func(t *testing.T) {
		locker := NewInMemoryBatchLocker()

		lease, err := locker.Obtain(ctx, "dealsync:batch", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, lease)

		_, err = locker.Obtain(ctx, "dealsync:batch", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotObtained)

		other, err := locker.Obtain(ctx, "other-key", time.Minute)
		require.NoError(t, err, "keys are independent")
		require.NoError(t, other.Release(ctx))
	})

	t.Run("release frees the key", func(t *testing.T) {
		locker := NewInMemoryBatchLocker()

		lease, err := locker.Obtain(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.NoError(t, lease.Release(ctx))

		again, err := locker.Obtain(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.NotNil(t, again)

		assert.ErrorIs(t, lease.Release(ctx), ErrLockNotHeld, "stale lease cannot release the new holder")
	})

	t.Run("expired lock can be taken over", func(t *testing.T) {
		locker := NewInMemoryBatchLocker()
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		locker.now = func() time.Time { return now }

		first, err := locker.Obtain(ctx, "k", time.Second)
		require.NoError(t, err)

		now = now.Add(2 * time.Second)
		_, err = locker.Obtain(ctx, "k", time.Second)
		require.NoError(t, err)

		assert.ErrorIs(t, first.Refresh(ctx, time.Second), ErrLockNotHeld)
	})

	t.Run("refresh extends the lease", func(t *testing.T) {
		locker := NewInMemoryBatchLocker()
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		locker.now = func() time.Time { return now }

		lease, err := locker.Obtain(ctx, "k", time.Second)
		require.NoError(t, err)

		now = now.Add(500 * time.Millisecond)
		require.NoError(t, lease.Refresh(ctx, time.Second))

		now = now.Add(800 * time.Millisecond)
		_, err = locker.Obtain(ctx, "k", time.Second)
		assert.ErrorIs(t, err, ErrLockNotObtained)
	})

	t.Run("cancelled context", func(t *testing.T) {
		locker := NewInMemoryBatchLocker()
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := locker.Obtain(cctx, "k", time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestInMemoryBatchLocker_Concurrent(t *testing.T) {
	locker := NewInMemoryBatchLocker()
	ctx := context.Background()

	var obtained atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locker.Obtain(ctx, "k", time.Minute); err == nil {
				obtained.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), obtained.Load())
}

func TestBatchLockerFactory_CreateLocker(t *testing.T) {
	t.Run("redis disabled uses in-memory", func(t *testing.T) {
		f := NewBatchLockerFactory(config.RedisConfig{Enabled: false}, WithLogger(zaptest.NewLogger(t)))

		locker, err := f.CreateLocker()
		require.NoError(t, err)
		assert.IsType(t, &InMemoryBatchLocker{}, locker)
	})

	t.Run("unreachable redis falls back", func(t *testing.T) {
		f := NewBatchLockerFactory(config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1})

		locker, err := f.CreateLocker()
		require.NoError(t, err)
		assert.IsType(t, &InMemoryBatchLocker{}, locker)
	})

	t.Run("unreachable redis without fallback errors", func(t *testing.T) {
		f := NewBatchLockerFactory(config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}, WithInMemoryFallback(false))

		locker, err := f.CreateLocker()
		require.Error(t, err)
		assert.Nil(t, locker)
		assert.Contains(t, err.Error(), "Redis required")
	})
}
