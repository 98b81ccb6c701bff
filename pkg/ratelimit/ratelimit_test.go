package ratelimit_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/ratelimit"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SlidingWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewMemory(clock)
	ctx := t.Context()

	for range 3 {
		ok, err := limiter.Allow(ctx, "wf", uuid.NewString(), 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
		clock.Advance(10 * time.Minute)
	}

	ok, err := limiter.Allow(ctx, "wf", uuid.NewString(), 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "fourth admission inside the hour is denied")

	// first admission leaves the window at 10:00
	clock.Advance(30*time.Minute + time.Second)

	ok, err = limiter.Allow(ctx, "wf", uuid.NewString(), 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, limiter.Count("wf", time.Hour))

	ok, err = limiter.Allow(ctx, "other", uuid.NewString(), 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")
}

func TestMemory_Seed(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	limiter := ratelimit.NewMemory(clock)

	limiter.Seed("wf", "run-1", now.Add(-10*time.Minute))
	limiter.Seed("wf", "run-2", now.Add(-2*time.Hour))
	limiter.Seed("wf", "run-3", now.Add(-30*time.Minute))
	assert.Equal(t, 2, limiter.Count("wf", time.Hour))

	ok, err := limiter.Allow(t.Context(), "wf", "run-4", 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Release(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewMemory(clock)
	ctx := t.Context()

	ok, err := limiter.Allow(ctx, "wf", "run-1", 1, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, limiter.Release(ctx, "wf", "run-1"))
	assert.Equal(t, 0, limiter.Count("wf", time.Hour))

	ok, err = limiter.Allow(ctx, "wf", "run-2", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "a released admission frees its slot")

	require.NoError(t, limiter.Release(ctx, "wf", "unknown"))
	assert.Equal(t, 1, limiter.Count("wf", time.Hour))
}

func TestMemory_ConcurrentAllowNeverExceedsLimit(t *testing.T) {
	limiter := ratelimit.NewMemory(clockwork.NewFakeClock())

	var (
		admitted atomic.Int32
		wg       sync.WaitGroup
	)

	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if ok, _ := limiter.Allow(t.Context(), "wf", uuid.NewString(), 10, time.Hour); ok {
				admitted.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(10), admitted.Load())
}

func TestRedis_SlidingWindow(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testutil.RedisAddress(t)})
	t.Cleanup(func() { _ = client.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	limiter := ratelimit.NewRedis(client, clock, "test:"+uuid.NewString()+":")
	ctx := t.Context()

	for range 2 {
		ok, err := limiter.Allow(ctx, ratelimit.Key("wf"), uuid.NewString(), 2, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, ratelimit.Key("wf"), uuid.NewString(), 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Hour + time.Millisecond)

	ok, err = limiter.Allow(ctx, ratelimit.Key("wf"), "run-a", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, ratelimit.Key("wf"), "run-b", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, limiter.Release(ctx, ratelimit.Key("wf"), "run-b"))

	ok, err = limiter.Allow(ctx, ratelimit.Key("wf"), "run-c", 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "a released admission frees its slot")
}
