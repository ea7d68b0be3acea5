// internal/core/services/medicine_service_test.go
package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
	"github.com/tbellec/medistock-be/test/helpers"
)

func TestMedicineService_GetPaginated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	aisle := helpers.CreateTestAisle()
	env.seedAisle(t, aisle)
	for i := 0; i < 55; i++ {
		env.seedMedicine(t, helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.Name = fmt.Sprintf("Med %03d", i)
			m.AisleID = aisle.ID
		}))
	}

	t.Run("walks_pages_until_exhausted", func(t *testing.T) {
		page1, err := env.medicines.GetPaginated(ctx, 20, true)
		require.NoError(t, err)
		require.Len(t, page1, 20)
		assert.Equal(t, "Med 000", page1[0].Name)

		page2, err := env.medicines.GetPaginated(ctx, 20, false)
		require.NoError(t, err)
		require.Len(t, page2, 20)
		assert.Equal(t, "Med 020", page2[0].Name)

		page3, err := env.medicines.GetPaginated(ctx, 20, false)
		require.NoError(t, err)
		require.Len(t, page3, 15)
		assert.Equal(t, "Med 054", page3[14].Name)
	})

	t.Run("exhausted_cursor_returns_empty_without_store_access", func(t *testing.T) {
		before := env.store.QueryCount()

		page, err := env.medicines.GetPaginated(ctx, 20, false)
		require.NoError(t, err)
		assert.Empty(t, page)
		assert.Equal(t, before, env.store.QueryCount())
	})

	t.Run("refresh_restarts_from_the_beginning", func(t *testing.T) {
		before := env.store.QueryCount()

		page, err := env.medicines.GetPaginated(ctx, 20, true)
		require.NoError(t, err)
		require.Len(t, page, 20)
		assert.Equal(t, "Med 000", page[0].Name)
		assert.Greater(t, env.store.QueryCount(), before)
	})

	t.Run("rejects_non_positive_limit", func(t *testing.T) {
		_, err := env.medicines.GetPaginated(ctx, 0, false)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestMedicineService_GetAll_Caching(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	aisle := helpers.CreateTestAisle()
	env.seedAisle(t, aisle)
	env.seedMedicine(t, helpers.CreateTestMedicine(func(m *domain.Medicine) {
		m.AisleID = aisle.ID
	}))

	first, err := env.medicines.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	queriesAfterFirst := env.store.QueryCount()

	// A second identical load within the TTL is served from cache.
	second, err := env.medicines.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, queriesAfterFirst, env.store.QueryCount())

	stats := env.cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMedicineService_GetAll_ConcurrentDedup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	aisle := helpers.CreateTestAisle()
	env.seedAisle(t, aisle)
	env.seedMedicine(t, helpers.CreateTestMedicine(func(m *domain.Medicine) {
		m.AisleID = aisle.ID
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			meds, err := env.medicines.GetAll(ctx)
			assert.NoError(t, err)
			assert.Len(t, meds, 1)
		}()
	}
	wg.Wait()

	// All callers observed a result, but the store saw at most one query.
	assert.Equal(t, 1, env.store.QueryCount())
}

func TestMedicineService_GetAll_OfflineFallback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	aisle := helpers.CreateTestAisle()
	env.seedAisle(t, aisle)
	env.seedMedicine(t, helpers.CreateTestMedicine(func(m *domain.Medicine) {
		m.Name = "Aspirin"
		m.AisleID = aisle.ID
	}))

	// Successful load seeds the offline snapshot.
	meds, err := env.medicines.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, meds, 1)

	// Store goes dark; cached query entries are gone too.
	env.store.FailWith(func(op, collection, id string) error {
		return &domain.TransientError{Err: errors.New("network unreachable")}
	})
	env.cache.Clear()

	got, err := env.medicines.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Aspirin", got[0].Name)
}

func TestMedicineService_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("creates_medicine_with_history_entry", func(t *testing.T) {
		env := newTestEnv(t)
		aisle := helpers.CreateTestAisle()
		env.seedAisle(t, aisle)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.ID = ""
			m.AisleID = aisle.ID
		})

		saved, err := env.medicines.Save(ctx, *med)
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)

		history, err := env.history.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, domain.ActionCreated, history[0].Action)
		assert.Equal(t, saved.ID, history[0].MedicineID)
	})

	t.Run("update_records_updated_action", func(t *testing.T) {
		env := newTestEnv(t)
		aisle := helpers.CreateTestAisle()
		env.seedAisle(t, aisle)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.AisleID = aisle.ID
		})
		env.seedMedicine(t, med)

		med.Description = "updated description"
		_, err := env.medicines.Save(ctx, *med)
		require.NoError(t, err)

		history, err := env.history.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, domain.ActionUpdated, history[0].Action)
	})

	t.Run("rejects_missing_aisle", func(t *testing.T) {
		env := newTestEnv(t)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.ID = ""
			m.AisleID = "no-such-aisle"
		})

		_, err := env.medicines.Save(ctx, *med)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("rejects_invalid_medicine_before_any_store_call", func(t *testing.T) {
		env := newTestEnv(t)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.Name = ""
		})

		_, err := env.medicines.Save(ctx, *med)
		assert.True(t, domain.IsValidation(err))
		assert.Equal(t, 0, env.store.QueryCount())
	})

	t.Run("aborted_transaction_leaves_nothing_behind", func(t *testing.T) {
		env := newTestEnv(t)
		aisle := helpers.CreateTestAisle()
		env.seedAisle(t, aisle)

		env.store.FailWith(func(op, collection, id string) error {
			if op == "tx.set" && collection == ports.CollectionHistory {
				return errors.New("history write rejected")
			}
			return nil
		})

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.ID = ""
			m.AisleID = aisle.ID
		})

		_, err := env.medicines.Save(ctx, *med)
		var abortErr *domain.TransactionAbortError
		require.ErrorAs(t, err, &abortErr)

		env.store.FailWith(nil)
		count, err := env.store.Count(ctx, ports.CollectionMedicines, nil)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestMedicineService_AdjustQuantity(t *testing.T) {
	ctx := context.Background()

	t.Run("applies_negative_delta_below_zero", func(t *testing.T) {
		env := newTestEnv(t)
		aisle := helpers.CreateTestAisle()
		env.seedAisle(t, aisle)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.Name = "Aspirin"
			m.CurrentQuantity = 50
			m.AisleID = aisle.ID
		})
		env.seedMedicine(t, med)

		updated, err := env.medicines.AdjustQuantity(ctx, med.ID, -60)
		require.NoError(t, err)
		assert.Equal(t, -10, updated.CurrentQuantity)

		// Exactly one adjustment entry, with the machine-readable delta.
		history, err := env.history.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, domain.ActionAdjusted, history[0].Action)

		delta, ok := domain.ParseDelta(history[0].Details)
		require.True(t, ok)
		assert.Equal(t, -60, delta)
	})

	t.Run("missing_medicine_aborts", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.medicines.AdjustQuantity(ctx, "no-such-id", 5)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("rejects_zero_delta", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.medicines.AdjustQuantity(ctx, "some-id", 0)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestMedicineService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes_medicine_and_records_history", func(t *testing.T) {
		env := newTestEnv(t)
		aisle := helpers.CreateTestAisle()
		env.seedAisle(t, aisle)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.AisleID = aisle.ID
		})
		env.seedMedicine(t, med)

		require.NoError(t, env.medicines.Delete(ctx, *med))

		_, err := env.store.Get(ctx, ports.CollectionMedicines, med.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		history, err := env.history.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, domain.ActionDeleted, history[0].Action)
	})

	t.Run("delete_survives_history_write_failure", func(t *testing.T) {
		env := newTestEnv(t)
		aisle := helpers.CreateTestAisle()
		env.seedAisle(t, aisle)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.AisleID = aisle.ID
		})
		env.seedMedicine(t, med)

		env.store.FailWith(func(op, collection, id string) error {
			if op == "set" && collection == ports.CollectionHistory {
				return errors.New("history write rejected")
			}
			return nil
		})

		// The deletion commits even though its audit entry cannot be
		// written.
		require.NoError(t, env.medicines.Delete(ctx, *med))

		env.store.FailWith(nil)
		_, err := env.store.Get(ctx, ports.CollectionMedicines, med.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		count, err := env.store.Count(ctx, ports.CollectionHistory, nil)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestMedicineService_CreateListener(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	aisle := helpers.CreateTestAisle()
	env.seedAisle(t, aisle)
	env.seedMedicine(t, helpers.CreateTestMedicine(func(m *domain.Medicine) {
		m.Name = "Aspirin"
		m.AisleID = aisle.ID
	}))

	pushes := make(chan []domain.Medicine, 8)
	handle, err := env.medicines.CreateListener(ctx, func(meds []domain.Medicine) {
		pushes <- meds
	})
	require.NoError(t, err)
	defer handle.Close()

	// Initial snapshot.
	initial := <-pushes
	require.Len(t, initial, 1)

	env.seedMedicine(t, helpers.CreateTestMedicine(func(m *domain.Medicine) {
		m.Name = "Ibuprofen"
		m.AisleID = aisle.ID
	}))

	// The push carries the full collection.
	next := <-pushes
	require.Len(t, next, 2)

	// The pushed state also reseeded the offline snapshot.
	cached, ok, err := env.snapshots.CachedMedicines(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cached, 2)
}

func TestMedicineService_ListenerSkipsBadDocuments(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	aisle := helpers.CreateTestAisle()
	env.seedAisle(t, aisle)

	pushes := make(chan []domain.Medicine, 8)
	handle, err := env.medicines.CreateListener(ctx, func(meds []domain.Medicine) {
		pushes <- meds
	})
	require.NoError(t, err)
	defer handle.Close()

	// Initial snapshot of the empty collection.
	require.Empty(t, <-pushes)

	// A document with a mangled payload lands in the collection.
	require.NoError(t, env.store.Set(ctx, ports.CollectionMedicines, "mangled", map[string]any{
		"owner_id":         "test-owner",
		"name":             "Mangled",
		"current_quantity": "many",
	}))
	assert.Empty(t, <-pushes)

	env.seedMedicine(t, helpers.CreateTestMedicine(func(m *domain.Medicine) {
		m.Name = "Aspirin"
		m.AisleID = aisle.ID
	}))

	// The healthy medicine still comes through; the mangled one is dropped.
	got := <-pushes
	require.Len(t, got, 1)
	assert.Equal(t, "Aspirin", got[0].Name)
}
