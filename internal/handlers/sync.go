// internal/handlers/sync.go
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/services"
)

// SyncHandler exposes sync state, lifecycle transitions and push listener
// control over HTTP.
type SyncHandler struct {
	sync      *services.SyncService
	scheduler *services.SyncScheduler
	listeners *services.ListenerManager
	logger    *slog.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(
	syncSvc *services.SyncService,
	scheduler *services.SyncScheduler,
	listeners *services.ListenerManager,
	logger *slog.Logger,
) *SyncHandler {
	return &SyncHandler{
		sync:      syncSvc,
		scheduler: scheduler,
		listeners: listeners,
		logger:    logger.With(slog.String("handler", "sync")),
	}
}

// Status handles GET /api/v1/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.sync.Status(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read sync status",
			slog.String("error", err.Error()))
		respondDomainError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, status)
}

// Force handles POST /api/v1/sync/force and queues a full sync.
func (h *SyncHandler) Force(w http.ResponseWriter, r *http.Request) {
	h.scheduler.ForceSyncNow(r.Context())
	respondJSON(h.logger, w, http.StatusAccepted, map[string]string{"queued": "full"})
}

// Lifecycle handles POST /api/v1/lifecycle/{event}. Events mirror the
// mobile app's transitions: active, inactive, background, foreground.
func (h *SyncHandler) Lifecycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	event := r.PathValue("event")

	switch event {
	case "active":
		h.scheduler.BecomeActive(ctx)
	case "inactive":
		h.scheduler.ResignActive(ctx)
	case "background":
		h.scheduler.EnterBackground(ctx)
	case "foreground":
		h.scheduler.EnterForeground(ctx)
	default:
		respondError(h.logger, w, http.StatusBadRequest, "Unknown lifecycle event")
		return
	}

	h.logger.InfoContext(ctx, "lifecycle transition applied",
		slog.String("event", event))

	respondJSON(h.logger, w, http.StatusOK, map[string]string{"event": event})
}

// ListListeners handles GET /api/v1/listeners
func (h *SyncHandler) ListListeners(w http.ResponseWriter, r *http.Request) {
	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"active": h.listeners.ActiveKinds(),
	})
}

// StartListener handles POST /api/v1/listeners/{kind}. Pushes flow into
// the query cache and offline snapshots server-side; no client callback
// is wired here.
func (h *SyncHandler) StartListener(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := services.ListenerKind(r.PathValue("kind"))

	var err error
	switch kind {
	case services.KindMedicines:
		err = h.listeners.StartMedicines(ctx, func(meds []domain.Medicine) {
			h.logger.Debug("medicine push received", slog.Int("count", len(meds)))
		})
	case services.KindAisles:
		err = h.listeners.StartAisles(ctx, func(aisles []domain.Aisle) {
			h.logger.Debug("aisle push received", slog.Int("count", len(aisles)))
		})
	case services.KindHistory:
		err = h.listeners.StartHistory(ctx, func(entries []domain.HistoryEntry) {
			h.logger.Debug("history push received", slog.Int("count", len(entries)))
		})
	default:
		respondError(h.logger, w, http.StatusBadRequest, "Unknown listener kind")
		return
	}

	if err != nil {
		h.logger.ErrorContext(ctx, "failed to start listener",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		respondDomainError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusCreated, map[string]string{"listening": string(kind)})
}

// StopListener handles DELETE /api/v1/listeners/{kind}
func (h *SyncHandler) StopListener(w http.ResponseWriter, r *http.Request) {
	kind := services.ListenerKind(r.PathValue("kind"))

	switch kind {
	case services.KindMedicines, services.KindAisles, services.KindHistory:
		h.listeners.Stop(kind)
	default:
		respondError(h.logger, w, http.StatusBadRequest, "Unknown listener kind")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
