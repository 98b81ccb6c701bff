package dedupe_test

import (
	"testing"
	"time"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/dedupe"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/testutil"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store dedupe.Store) {
	t.Helper()

	ctx := t.Context()
	key := dedupe.Key("wf", uuid.NewString())

	ok, err := store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "second claim of the same key is rejected")

	require.NoError(t, store.Release(ctx, key))

	ok, err = store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "released keys can be claimed again")
}

func TestMemory(t *testing.T) {
	testStore(t, dedupe.NewMemory(nil))
}

func TestMemory_Expiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := dedupe.NewMemory(clock)

	ok, err := store.Claim(t.Context(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(time.Minute)

	ok, err = store.Claim(t.Context(), "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_Seed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	store := dedupe.NewMemory(clock)

	store.Seed("held", clock.Now().Add(time.Hour))
	store.Seed("stale", clock.Now().Add(-time.Minute))

	ok, err := store.Claim(t.Context(), "held", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "seeded keys stay claimed until they expire")

	ok, err = store.Claim(t.Context(), "stale", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "keys seeded past their expiry are ignored")

	clock.Advance(time.Hour)

	ok, err = store.Claim(t.Context(), "held", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_SweepsExpiredKeys(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := dedupe.NewMemory(clock)
	ctx := t.Context()

	for range 10 {
		_, err := store.Claim(ctx, uuid.NewString(), time.Minute)
		require.NoError(t, err)
	}

	clock.Advance(2 * time.Minute)

	for range 1014 {
		_, err := store.Claim(ctx, uuid.NewString(), time.Hour)
		require.NoError(t, err)
	}

	assert.Equal(t, 1014, store.Len(), "expired keys are dropped once every 1024 claims")
}

func TestRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testutil.RedisAddress(t)})
	t.Cleanup(func() { _ = client.Close() })

	testStore(t, dedupe.NewRedis(client, "test:"))
}
