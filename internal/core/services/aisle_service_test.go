// internal/core/services/aisle_service_test.go
package services_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
	"github.com/tbellec/medistock-be/test/helpers"
)

func TestAisleService_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("creates_aisle", func(t *testing.T) {
		env := newTestEnv(t)

		aisle := helpers.CreateTestAisle(func(a *domain.Aisle) {
			a.ID = ""
			a.Name = "Pharmacy"
		})

		saved, err := env.aisles.Save(ctx, *aisle)
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)

		all, err := env.aisles.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "Pharmacy", all[0].Name)

		// The creation left an audit entry with no medicine reference.
		history, err := env.history.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, domain.ActionCreated, history[0].Action)
		assert.Empty(t, history[0].MedicineID)
	})

	t.Run("rejects_case_insensitive_duplicate_name", func(t *testing.T) {
		env := newTestEnv(t)
		env.seedAisle(t, helpers.CreateTestAisle(func(a *domain.Aisle) {
			a.Name = "Pharmacy"
		}))

		dup := helpers.CreateTestAisle(func(a *domain.Aisle) {
			a.ID = ""
			a.Name = "pharmacy"
		})

		_, err := env.aisles.Save(ctx, *dup)
		assert.ErrorIs(t, err, domain.ErrDuplicateName)
	})

	t.Run("renaming_an_aisle_to_its_own_name_is_allowed", func(t *testing.T) {
		env := newTestEnv(t)
		existing := helpers.CreateTestAisle(func(a *domain.Aisle) {
			a.Name = "Pharmacy"
		})
		env.seedAisle(t, existing)

		existing.Description = "restocked"
		saved, err := env.aisles.Save(ctx, *existing)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, saved.ID)
	})

	t.Run("rejects_invalid_color", func(t *testing.T) {
		env := newTestEnv(t)

		aisle := helpers.CreateTestAisle(func(a *domain.Aisle) {
			a.ID = ""
			a.Color = "blue"
		})

		_, err := env.aisles.Save(ctx, *aisle)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestAisleService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes_empty_aisle", func(t *testing.T) {
		env := newTestEnv(t)
		aisle := helpers.CreateTestAisle()
		env.seedAisle(t, aisle)

		require.NoError(t, env.aisles.Delete(ctx, *aisle))

		_, err := env.store.Get(ctx, ports.CollectionAisles, aisle.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		history, err := env.history.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, domain.ActionDeleted, history[0].Action)
	})

	t.Run("refuses_aisle_with_medicines", func(t *testing.T) {
		env := newTestEnv(t)
		aisle := helpers.CreateTestAisle()
		env.seedAisle(t, aisle)
		env.seedMedicine(t, helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.AisleID = aisle.ID
		}))

		err := env.aisles.Delete(ctx, *aisle)
		assert.ErrorIs(t, err, domain.ErrAisleNotEmpty)

		// The aisle is untouched.
		_, err = env.store.Get(ctx, ports.CollectionAisles, aisle.ID)
		assert.NoError(t, err)
	})
}

func TestAisleService_GetPaginated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for i := 0; i < 7; i++ {
		env.seedAisle(t, helpers.CreateTestAisle(func(a *domain.Aisle) {
			a.Name = fmt.Sprintf("Aisle %d", i)
		}))
	}

	page1, err := env.aisles.GetPaginated(ctx, 5, true)
	require.NoError(t, err)
	require.Len(t, page1, 5)
	assert.Equal(t, "Aisle 0", page1[0].Name)

	page2, err := env.aisles.GetPaginated(ctx, 5, false)
	require.NoError(t, err)
	require.Len(t, page2, 2)

	// Exhausted: no further store traffic.
	before := env.store.QueryCount()
	page3, err := env.aisles.GetPaginated(ctx, 5, false)
	require.NoError(t, err)
	assert.Empty(t, page3)
	assert.Equal(t, before, env.store.QueryCount())
}
