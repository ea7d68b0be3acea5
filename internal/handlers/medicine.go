// internal/handlers/medicine.go
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tbellec/medistock-be/internal/core/domain"
	"github.com/tbellec/medistock-be/internal/core/ports"
)

// MedicineHandler handles medicine-related HTTP requests
type MedicineHandler struct {
	service ports.MedicineRepository
	logger  *slog.Logger
}

// NewMedicineHandler creates a new medicine handler
func NewMedicineHandler(service ports.MedicineRepository, logger *slog.Logger) *MedicineHandler {
	return &MedicineHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "medicine")),
	}
}

// List handles GET /api/v1/medicines. With ?limit=N it serves the next
// page of the cursor; ?refresh=true restarts pagination from the top.
func (h *MedicineHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		meds, err := h.service.GetAll(ctx)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to list medicines",
				slog.String("error", err.Error()))
			respondDomainError(h.logger, w, err)
			return
		}
		respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
			"medicines": meds,
			"count":     len(meds),
		})
		return
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "Invalid limit")
		return
	}
	refresh := r.URL.Query().Get("refresh") == "true"

	page, err := h.service.GetPaginated(ctx, limit, refresh)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load medicine page",
			slog.String("error", err.Error()))
		respondDomainError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"medicines": page,
		"count":     len(page),
		"has_more":  len(page) == limit,
	})
}

// Save handles POST /api/v1/medicines. A body without an id creates; a
// body with an id updates.
func (h *MedicineHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var med domain.Medicine
	if err := json.NewDecoder(r.Body).Decode(&med); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created := med.IsNew()
	saved, err := h.service.Save(ctx, med)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to save medicine",
			slog.String("name", med.Name),
			slog.String("error", err.Error()))
		respondDomainError(h.logger, w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(h.logger, w, status, saved)
}

// Delete handles DELETE /api/v1/medicines/{id}
func (h *MedicineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	med, ok, err := h.findByID(ctx, id)
	if err != nil {
		respondDomainError(h.logger, w, err)
		return
	}
	if !ok {
		respondError(h.logger, w, http.StatusNotFound, "Medicine not found")
		return
	}

	if err := h.service.Delete(ctx, med); err != nil {
		h.logger.ErrorContext(ctx, "failed to delete medicine",
			slog.String("id", id),
			slog.String("error", err.Error()))
		respondDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AdjustRequest represents the body of a quantity adjustment
type AdjustRequest struct {
	Delta int `json:"delta"`
}

// Adjust handles POST /api/v1/medicines/{id}/adjust
func (h *MedicineHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	med, err := h.service.AdjustQuantity(ctx, id, req.Delta)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to adjust quantity",
			slog.String("id", id),
			slog.Int("delta", req.Delta),
			slog.String("error", err.Error()))
		respondDomainError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"medicine":    med,
		"stock_level": med.StockLevel(),
	})
}

// findByID resolves a medicine through the cached collection read.
func (h *MedicineHandler) findByID(ctx context.Context, id string) (domain.Medicine, bool, error) {
	meds, err := h.service.GetAll(ctx)
	if err != nil {
		return domain.Medicine{}, false, err
	}
	for _, med := range meds {
		if med.ID == id {
			return med, true, nil
		}
	}
	return domain.Medicine{}, false, nil
}
