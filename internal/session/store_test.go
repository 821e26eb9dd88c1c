package session

import (
	"context"
	"testing"
	"time"

	"voip-billing-platform/internal/rates"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sampleSession(callID string, expiresAt time.Time) Session {
	return Session{
		CallID:         callID,
		CustomerID:     "cust-1",
		Destination:    "14155550100",
		RateID:         "rate-1",
		RatePerMin:     decimal.RequireFromString("0.06"),
		MinimumSeconds: 0,
		Policy:         rates.IncrementPolicy{Initial: 6, Subsequent: 6},
		ReservedCost:   decimal.RequireFromString("0.006"),
		StartedAt:      time.Now().UTC().Truncate(time.Second),
		ExpiresAt:      expiresAt,
	}
}

func redisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := redisStore(t)
	ctx := context.Background()

	sess := sampleSession("call-1", time.Now().UTC().Add(time.Hour))
	require.NoError(t, store.Put(ctx, sess, time.Hour))

	got, ok, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sess.CallID, got.CallID)
	require.Equal(t, sess.Policy, got.Policy)
	require.True(t, sess.RatePerMin.Equal(got.RatePerMin))

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreDelete(t *testing.T) {
	store, _ := redisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, sampleSession("call-1", time.Now().UTC().Add(time.Hour)), time.Hour))
	require.NoError(t, store.Delete(ctx, "call-1"))

	_, ok, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	require.False(t, ok)

	// Deleted sessions leave no index entry behind.
	expired, err := store.ListExpired(ctx, time.Now().UTC().Add(48*time.Hour))
	require.NoError(t, err)
	require.Empty(t, expired)
}

// An expired session stays readable until its retention window passes, so
// the batch processor sees it instead of a silent disappearance.
func TestRedisStoreListExpired(t *testing.T) {
	store, _ := redisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Put(ctx, sampleSession("stuck", now.Add(-time.Minute)), time.Hour))
	require.NoError(t, store.Put(ctx, sampleSession("healthy", now.Add(time.Hour)), time.Hour))

	expired, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "stuck", expired[0].CallID)
}

func TestRedisStoreListExpiredCleansDanglingIndex(t *testing.T) {
	store, mr := redisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Put(ctx, sampleSession("gone", now.Add(-time.Minute)), time.Hour))
	// Simulate the retention window passing: the key evicts, the index
	// entry lingers.
	mr.Del(sessionKeyPrefix + "gone")

	expired, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Empty(t, expired)

	// The dangling index entry was dropped on the way through.
	expired, err = store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestRedisStorePutReArmsTTL(t *testing.T) {
	store, _ := redisStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Put(ctx, sampleSession("call-1", now.Add(-time.Minute)), time.Hour))

	// A later tick re-arms the session; it must leave the expired set.
	require.NoError(t, store.Put(ctx, sampleSession("call-1", now.Add(time.Hour)), time.Hour))

	expired, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Put(ctx, sampleSession("call-1", now.Add(-time.Minute)), time.Hour))
	require.NoError(t, store.Put(ctx, sampleSession("call-2", now.Add(time.Hour)), time.Hour))

	_, ok, err := store.Get(ctx, "call-1")
	require.NoError(t, err)
	require.True(t, ok)

	expired, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "call-1", expired[0].CallID)

	require.NoError(t, store.Delete(ctx, "call-1"))
	_, ok, err = store.Get(ctx, "call-1")
	require.NoError(t, err)
	require.False(t, ok)
}
