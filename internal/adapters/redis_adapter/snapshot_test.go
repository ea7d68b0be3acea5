// internal/adapters/redis_adapter/snapshot_test.go
package redis_a_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redis_a "github.com/tbellec/medistock-be/internal/adapters/redis_adapter"
	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/test/helpers"
)

func setupKV(t *testing.T) *redis_a.KV {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redis_a.NewKV(client, 0, helpers.TestLogger())
}

func TestKV_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)

	t.Run("missing_key_returns_miss", func(t *testing.T) {
		_, err := kv.GetBytes(ctx, "nope")
		assert.ErrorIs(t, err, redis_a.ErrKeyMiss)
	})

	t.Run("round_trips_bytes", func(t *testing.T) {
		require.NoError(t, kv.SetBytes(ctx, "k1", []byte("hello")))

		got, err := kv.GetBytes(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), got)
	})

	t.Run("delete_removes_keys", func(t *testing.T) {
		require.NoError(t, kv.SetBytes(ctx, "k2", []byte("x")))
		require.NoError(t, kv.Delete(ctx, "k2"))

		_, err := kv.GetBytes(ctx, "k2")
		assert.ErrorIs(t, err, redis_a.ErrKeyMiss)
	})

	t.Run("keys_matches_pattern", func(t *testing.T) {
		require.NoError(t, kv.SetBytes(ctx, "snapshot:a", []byte("1")))
		require.NoError(t, kv.SetBytes(ctx, "snapshot:b", []byte("2")))
		require.NoError(t, kv.SetBytes(ctx, "other:c", []byte("3")))

		keys, err := kv.Keys(ctx, "snapshot:*")
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})
}

func TestSnapshot_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)
	snap := redis_a.NewSnapshot(kv, 5*time.Minute, helpers.TestLogger())

	t.Run("empty_cache_reports_not_ok", func(t *testing.T) {
		_, ok, err := snap.CachedMedicines(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("medicines_round_trip", func(t *testing.T) {
		meds := []domain.Medicine{
			*helpers.CreateTestMedicine(),
			*helpers.CreateTestMedicine(func(m *domain.Medicine) { m.Name = "Ibuprofen" }),
		}
		require.NoError(t, snap.SaveMedicines(ctx, meds))

		got, ok, err := snap.CachedMedicines(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, got, 2)
		assert.Equal(t, meds[0].Name, got[0].Name)
	})

	t.Run("aisles_round_trip", func(t *testing.T) {
		aisles := []domain.Aisle{*helpers.CreateTestAisle()}
		require.NoError(t, snap.SaveAisles(ctx, aisles))

		got, ok, err := snap.CachedAisles(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, got, 1)
	})

	t.Run("history_round_trip", func(t *testing.T) {
		entries := []domain.HistoryEntry{*helpers.CreateTestHistoryEntry()}
		require.NoError(t, snap.SaveHistory(ctx, entries))

		got, ok, err := snap.CachedHistory(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, got, 1)
	})

	t.Run("empty_slice_stays_usable", func(t *testing.T) {
		require.NoError(t, snap.SaveMedicines(ctx, []domain.Medicine{}))

		got, ok, err := snap.CachedMedicines(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, got)
	})
}

func TestSnapshot_Staleness(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)
	snap := redis_a.NewSnapshot(kv, 5*time.Minute, helpers.TestLogger())

	now := time.Now()
	snap.SetNowFunc(func() time.Time { return now })

	require.NoError(t, snap.SaveMedicines(ctx, []domain.Medicine{*helpers.CreateTestMedicine()}))

	// Fresh within the window.
	_, ok, err := snap.CachedMedicines(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale once the window has passed; data is reported unusable, not
	// deleted.
	snap.SetNowFunc(func() time.Time { return now.Add(6 * time.Minute) })

	_, ok, err = snap.CachedMedicines(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshot_Clear(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)
	snap := redis_a.NewSnapshot(kv, 5*time.Minute, helpers.TestLogger())

	require.NoError(t, snap.SaveMedicines(ctx, []domain.Medicine{*helpers.CreateTestMedicine()}))
	require.NoError(t, snap.SaveAisles(ctx, []domain.Aisle{*helpers.CreateTestAisle()}))

	require.NoError(t, snap.Clear(ctx))

	_, ok, err := snap.CachedMedicines(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = snap.CachedAisles(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshot_ClearExpired(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)
	snap := redis_a.NewSnapshot(kv, 5*time.Minute, helpers.TestLogger())

	now := time.Now()
	snap.SetNowFunc(func() time.Time { return now })
	require.NoError(t, snap.SaveMedicines(ctx, []domain.Medicine{*helpers.CreateTestMedicine()}))

	snap.SetNowFunc(func() time.Time { return now.Add(6 * time.Minute) })
	require.NoError(t, snap.SaveAisles(ctx, []domain.Aisle{*helpers.CreateTestAisle()}))

	require.NoError(t, snap.ClearExpired(ctx))

	// The stale medicine snapshot is gone entirely.
	_, err := kv.GetBytes(ctx, redis_a.KeyMedicines)
	assert.ErrorIs(t, err, redis_a.ErrKeyMiss)

	// The fresh aisle snapshot survives.
	_, ok, err := snap.CachedAisles(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSnapshot_Info(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)
	snap := redis_a.NewSnapshot(kv, 5*time.Minute, helpers.TestLogger())

	require.NoError(t, snap.SaveMedicines(ctx, []domain.Medicine{
		*helpers.CreateTestMedicine(),
		*helpers.CreateTestMedicine(func(m *domain.Medicine) { m.Name = "Ibuprofen" }),
	}))
	require.NoError(t, snap.SaveAisles(ctx, []domain.Aisle{*helpers.CreateTestAisle()}))

	info, err := snap.Info(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, info.Counts["medicines"])
	assert.Equal(t, 1, info.Counts["aisles"])
	assert.NotContains(t, info.Counts, "history")
	assert.Contains(t, info.Ages, "medicines")
	assert.False(t, info.IsOffline)
}
