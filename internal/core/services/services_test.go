// internal/core/services/services_test.go
package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tbellec/medistock-be/internal/adapters/docstore"
	"github.com/tbellec/medistock-be/internal/adapters/identity"
	redis_a "github.com/tbellec/medistock-be/internal/adapters/redis_adapter"
	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
	"github.com/tbellec/medistock-be/internal/core/services"
	"github.com/tbellec/medistock-be/internal/pkg/querycache"
	"github.com/tbellec/medistock-be/test/helpers"
)

// testEnv wires the full service stack over an in-memory document store
// and a miniredis-backed snapshot cache.
type testEnv struct {
	store     *docstore.MemoryStore
	cache     *querycache.Cache
	snapshots *redis_a.Snapshot
	writer    *services.WriteCoordinator
	medicines *services.MedicineService
	aisles    *services.AisleService
	history   *services.HistoryService
	listeners *services.ListenerManager
	sync      *services.SyncService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := helpers.TestLogger()
	store := docstore.NewMemoryStore()
	cache := querycache.New(5*time.Minute, logger)

	tr := helpers.SetupTestRedis(t)
	kv := redis_a.NewKV(tr.Client, 0, logger)
	snapshots := redis_a.NewSnapshot(kv, 5*time.Minute, logger)

	ident := identity.NewStatic("test-owner")
	writer := services.NewWriteCoordinator(store, ident, logger)
	medicines := services.NewMedicineService(store, writer, cache, snapshots, ident, logger)
	aisles := services.NewAisleService(store, writer, cache, snapshots, ident, logger)
	history := services.NewHistoryService(store, cache, snapshots, ident, logger)
	listeners := services.NewListenerManager(medicines, aisles, history, logger)
	syncSvc := services.NewSyncService(medicines, aisles, history, listeners, snapshots, cache,
		90*24*time.Hour, logger)

	return &testEnv{
		store:     store,
		cache:     cache,
		snapshots: snapshots,
		writer:    writer,
		medicines: medicines,
		aisles:    aisles,
		history:   history,
		listeners: listeners,
		sync:      syncSvc,
	}
}

// seedAisle puts an aisle directly into the store, bypassing validation.
func (e *testEnv) seedAisle(t *testing.T, aisle *domain.Aisle) {
	t.Helper()
	require.NoError(t, e.store.Set(context.Background(), ports.CollectionAisles, aisle.ID, aisle))
}

// seedMedicine puts a medicine directly into the store.
func (e *testEnv) seedMedicine(t *testing.T, med *domain.Medicine) {
	t.Helper()
	require.NoError(t, e.store.Set(context.Background(), ports.CollectionMedicines, med.ID, med))
}
