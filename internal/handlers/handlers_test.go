// internal/handlers/handlers_test.go
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbellec/medistock-be/internal/adapters/docstore"
	"github.com/tbellec/medistock-be/internal/adapters/identity"
	redis_a "github.com/tbellec/medistock-be/internal/adapters/redis_adapter"
	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
	"github.com/tbellec/medistock-be/internal/core/services"
	"github.com/tbellec/medistock-be/internal/handlers"
	"github.com/tbellec/medistock-be/internal/pkg/querycache"
	"github.com/tbellec/medistock-be/test/helpers"
)

type handlerEnv struct {
	store     *docstore.MemoryStore
	medicines *handlers.MedicineHandler
	aisles    *handlers.AisleHandler
	history   *handlers.HistoryHandler
	sync      *handlers.SyncHandler
	mux       *http.ServeMux
}

type recordingEnqueuer struct {
	tiers []services.SyncTier
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, tier services.SyncTier) error {
	r.tiers = append(r.tiers, tier)
	return nil
}

func newHandlerEnv(t *testing.T) (*handlerEnv, *recordingEnqueuer) {
	t.Helper()

	logger := helpers.TestLogger()
	store := docstore.NewMemoryStore()
	cache := querycache.New(5*time.Minute, logger)

	tr := helpers.SetupTestRedis(t)
	kv := redis_a.NewKV(tr.Client, 0, logger)
	snapshots := redis_a.NewSnapshot(kv, 5*time.Minute, logger)

	ident := identity.NewStatic("test-owner")
	writer := services.NewWriteCoordinator(store, ident, logger)
	medicineSvc := services.NewMedicineService(store, writer, cache, snapshots, ident, logger)
	aisleSvc := services.NewAisleService(store, writer, cache, snapshots, ident, logger)
	historySvc := services.NewHistoryService(store, cache, snapshots, ident, logger)
	listeners := services.NewListenerManager(medicineSvc, aisleSvc, historySvc, logger)
	syncSvc := services.NewSyncService(medicineSvc, aisleSvc, historySvc, listeners, snapshots, cache, 90*24*time.Hour, logger)

	enq := &recordingEnqueuer{}
	scheduler := services.NewSyncScheduler(enq, syncSvc, time.Hour, logger)
	t.Cleanup(scheduler.Stop)
	t.Cleanup(listeners.StopAll)

	env := &handlerEnv{
		store:     store,
		medicines: handlers.NewMedicineHandler(medicineSvc, logger),
		aisles:    handlers.NewAisleHandler(aisleSvc, logger),
		history:   handlers.NewHistoryHandler(historySvc, 20, logger),
		sync:      handlers.NewSyncHandler(syncSvc, scheduler, listeners, logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/medicines", env.medicines.List)
	mux.HandleFunc("POST /api/v1/medicines", env.medicines.Save)
	mux.HandleFunc("DELETE /api/v1/medicines/{id}", env.medicines.Delete)
	mux.HandleFunc("POST /api/v1/medicines/{id}/adjust", env.medicines.Adjust)
	mux.HandleFunc("GET /api/v1/aisles", env.aisles.List)
	mux.HandleFunc("POST /api/v1/aisles", env.aisles.Save)
	mux.HandleFunc("DELETE /api/v1/aisles/{id}", env.aisles.Delete)
	mux.HandleFunc("GET /api/v1/history", env.history.List)
	mux.HandleFunc("GET /api/v1/history/recent", env.history.Recent)
	mux.HandleFunc("GET /api/v1/sync/status", env.sync.Status)
	mux.HandleFunc("POST /api/v1/sync/force", env.sync.Force)
	mux.HandleFunc("POST /api/v1/lifecycle/{event}", env.sync.Lifecycle)
	mux.HandleFunc("GET /api/v1/listeners", env.sync.ListListeners)
	mux.HandleFunc("POST /api/v1/listeners/{kind}", env.sync.StartListener)
	mux.HandleFunc("DELETE /api/v1/listeners/{kind}", env.sync.StopListener)
	env.mux = mux

	return env, enq
}

func (e *handlerEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func (e *handlerEnv) seedAisle(t *testing.T) domain.Aisle {
	t.Helper()

	aisle := helpers.CreateTestAisle()
	require.NoError(t, e.store.Set(context.Background(), ports.CollectionAisles, aisle.ID, aisle))
	return *aisle
}

func TestMedicineHandler(t *testing.T) {
	t.Run("create_then_list", func(t *testing.T) {
		env, _ := newHandlerEnv(t)
		aisle := env.seedAisle(t)

		w := env.do(t, "POST", "/api/v1/medicines", map[string]interface{}{
			"name":     "Paracetamol 500mg",
			"aisle_id": aisle.ID,
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var created domain.Medicine
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "test-owner", created.OwnerID)

		w = env.do(t, "GET", "/api/v1/medicines", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var listed struct {
			Medicines []domain.Medicine `json:"medicines"`
			Count     int               `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
		assert.Equal(t, 1, listed.Count)
	})

	t.Run("rejects_unknown_aisle", func(t *testing.T) {
		env, _ := newHandlerEnv(t)

		w := env.do(t, "POST", "/api/v1/medicines", map[string]interface{}{
			"name":     "Paracetamol 500mg",
			"aisle_id": "no-such-aisle",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("paginated_list", func(t *testing.T) {
		env, _ := newHandlerEnv(t)
		aisle := env.seedAisle(t)

		ctx := context.Background()
		for i := 0; i < 7; i++ {
			med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
				m.Name = fmt.Sprintf("Med %02d", i)
				m.AisleID = aisle.ID
			})
			require.NoError(t, env.store.Set(ctx, ports.CollectionMedicines, med.ID, med))
		}

		w := env.do(t, "GET", "/api/v1/medicines?limit=5&refresh=true", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var page struct {
			Medicines []domain.Medicine `json:"medicines"`
			HasMore   bool              `json:"has_more"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		assert.Len(t, page.Medicines, 5)
		assert.True(t, page.HasMore)

		w = env.do(t, "GET", "/api/v1/medicines?limit=5", nil)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		assert.Len(t, page.Medicines, 2)
		assert.False(t, page.HasMore)
	})

	t.Run("adjust_quantity", func(t *testing.T) {
		env, _ := newHandlerEnv(t)
		aisle := env.seedAisle(t)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.AisleID = aisle.ID
			m.CurrentQuantity = 10
		})
		require.NoError(t, env.store.Set(context.Background(), ports.CollectionMedicines, med.ID, med))

		w := env.do(t, "POST", "/api/v1/medicines/"+med.ID+"/adjust", handlers.AdjustRequest{Delta: -7})
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Medicine   domain.Medicine   `json:"medicine"`
			StockLevel domain.StockLevel `json:"stock_level"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 3, resp.Medicine.CurrentQuantity)
		assert.Equal(t, domain.StockCritical, resp.StockLevel)
	})

	t.Run("adjust_missing_medicine_is_not_found", func(t *testing.T) {
		env, _ := newHandlerEnv(t)

		w := env.do(t, "POST", "/api/v1/medicines/no-such-id/adjust", handlers.AdjustRequest{Delta: 1})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		env, _ := newHandlerEnv(t)
		aisle := env.seedAisle(t)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.AisleID = aisle.ID
		})
		require.NoError(t, env.store.Set(context.Background(), ports.CollectionMedicines, med.ID, med))

		w := env.do(t, "DELETE", "/api/v1/medicines/"+med.ID, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = env.do(t, "DELETE", "/api/v1/medicines/"+med.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAisleHandler(t *testing.T) {
	t.Run("duplicate_name_conflicts", func(t *testing.T) {
		env, _ := newHandlerEnv(t)

		w := env.do(t, "POST", "/api/v1/aisles", map[string]interface{}{"name": "Pharmacy"})
		require.Equal(t, http.StatusCreated, w.Code)

		w = env.do(t, "POST", "/api/v1/aisles", map[string]interface{}{"name": "pharmacy"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("delete_refused_while_aisle_in_use", func(t *testing.T) {
		env, _ := newHandlerEnv(t)
		aisle := env.seedAisle(t)

		med := helpers.CreateTestMedicine(func(m *domain.Medicine) {
			m.AisleID = aisle.ID
		})
		require.NoError(t, env.store.Set(context.Background(), ports.CollectionMedicines, med.ID, med))

		w := env.do(t, "DELETE", "/api/v1/aisles/"+aisle.ID, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHistoryHandler_Recent(t *testing.T) {
	env, _ := newHandlerEnv(t)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		entry := helpers.CreateTestHistoryEntry(func(e *domain.HistoryEntry) {
			e.Details = fmt.Sprintf("entry %d", i)
			e.Timestamp = time.Now().UTC().Add(time.Duration(i) * time.Second)
		})
		require.NoError(t, env.store.Set(ctx, ports.CollectionHistory, entry.ID, entry))
	}

	w := env.do(t, "GET", "/api/v1/history/recent?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []domain.HistoryEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "entry 4", resp.Entries[0].Details)
}

func TestSyncHandler(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		env, _ := newHandlerEnv(t)

		w := env.do(t, "GET", "/api/v1/sync/status", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var status services.SyncStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.False(t, status.IsActive)
		assert.Nil(t, status.LastSyncTime)
	})

	t.Run("force_queues_full_sync", func(t *testing.T) {
		env, enq := newHandlerEnv(t)

		w := env.do(t, "POST", "/api/v1/sync/force", nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, []services.SyncTier{services.TierFull}, enq.tiers)
	})

	t.Run("lifecycle_active_queues_quick_sync", func(t *testing.T) {
		env, enq := newHandlerEnv(t)

		w := env.do(t, "POST", "/api/v1/lifecycle/active", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []services.SyncTier{services.TierQuick}, enq.tiers)
	})

	t.Run("unknown_lifecycle_event", func(t *testing.T) {
		env, _ := newHandlerEnv(t)

		w := env.do(t, "POST", "/api/v1/lifecycle/hibernate", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("listener_start_and_stop", func(t *testing.T) {
		env, _ := newHandlerEnv(t)

		w := env.do(t, "POST", "/api/v1/listeners/medicines", nil)
		require.Equal(t, http.StatusCreated, w.Code)

		w = env.do(t, "GET", "/api/v1/listeners", nil)
		var resp struct {
			Active []services.ListenerKind `json:"active"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, []services.ListenerKind{services.KindMedicines}, resp.Active)

		w = env.do(t, "DELETE", "/api/v1/listeners/medicines", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = env.do(t, "POST", "/api/v1/listeners/thermometers", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
