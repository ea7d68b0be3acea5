// internal/workers/sync_processor_test.go
package workers_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbellec/medistock-be/internal/adapters/docstore"
	"github.com/tbellec/medistock-be/internal/adapters/identity"
	redis_a "github.com/tbellec/medistock-be/internal/adapters/redis_adapter"
	"github.com/tbellec/medistock-be/internal/core/services"
	"github.com/tbellec/medistock-be/internal/pkg/querycache"
	"github.com/tbellec/medistock-be/internal/workers"
	"github.com/tbellec/medistock-be/test/helpers"
)

func newSyncService(t *testing.T) *services.SyncService {
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

	return services.NewSyncService(medicines, aisles, history, listeners, snapshots, cache, 90*24*time.Hour, logger)
}

func TestSyncProcessor_ProcessSync(t *testing.T) {
	ctx := context.Background()

	t.Run("runs_the_requested_tier", func(t *testing.T) {
		syncSvc := newSyncService(t)
		processor := workers.NewSyncProcessor(syncSvc, helpers.TestLogger())

		b, err := json.Marshal(workers.SyncJobPayload{
			Tier:       services.TierQuick,
			EnqueuedAt: time.Now().UTC(),
		})
		require.NoError(t, err)

		task := asynq.NewTask(workers.TypeSyncQuick, b)
		require.NoError(t, processor.ProcessSync(ctx, task))

		status, err := syncSvc.Status(ctx)
		require.NoError(t, err)
		assert.NotNil(t, status.LastSyncTime)
	})

	t.Run("rejects_malformed_payload", func(t *testing.T) {
		processor := workers.NewSyncProcessor(newSyncService(t), helpers.TestLogger())

		task := asynq.NewTask(workers.TypeSyncQuick, []byte("{not json"))
		err := processor.ProcessSync(ctx, task)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unmarshal")
	})

	t.Run("rejects_unknown_tier", func(t *testing.T) {
		processor := workers.NewSyncProcessor(newSyncService(t), helpers.TestLogger())

		b, err := json.Marshal(workers.SyncJobPayload{Tier: services.SyncTier("bogus")})
		require.NoError(t, err)

		err = processor.ProcessSync(ctx, asynq.NewTask("sync:bogus", b))
		require.Error(t, err)
	})
}
