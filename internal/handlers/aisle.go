// internal/handlers/aisle.go
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

// AisleHandler handles aisle-related HTTP requests
type AisleHandler struct {
	service ports.AisleRepository
	logger  *slog.Logger
}

// NewAisleHandler creates a new aisle handler
func NewAisleHandler(service ports.AisleRepository, logger *slog.Logger) *AisleHandler {
	return &AisleHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "aisle")),
	}
}

// List handles GET /api/v1/aisles
func (h *AisleHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		aisles, err := h.service.GetAll(ctx)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to list aisles",
				slog.String("error", err.Error()))
			respondDomainError(h.logger, w, err)
			return
		}
		respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
			"aisles": aisles,
			"count":  len(aisles),
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
		respondDomainError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"aisles":   page,
		"count":    len(page),
		"has_more": len(page) == limit,
	})
}

// Save handles POST /api/v1/aisles
func (h *AisleHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var aisle domain.Aisle
	if err := json.NewDecoder(r.Body).Decode(&aisle); err != nil {
		respondError(h.logger, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created := aisle.IsNew()
	saved, err := h.service.Save(ctx, aisle)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to save aisle",
			slog.String("name", aisle.Name),
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

// Delete handles DELETE /api/v1/aisles/{id}
func (h *AisleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	aisle, ok, err := h.findByID(ctx, id)
	if err != nil {
		respondDomainError(h.logger, w, err)
		return
	}
	if !ok {
		respondError(h.logger, w, http.StatusNotFound, "Aisle not found")
		return
	}

	if err := h.service.Delete(ctx, aisle); err != nil {
		h.logger.ErrorContext(ctx, "failed to delete aisle",
			slog.String("id", id),
			slog.String("error", err.Error()))
		respondDomainError(h.logger, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AisleHandler) findByID(ctx context.Context, id string) (domain.Aisle, bool, error) {
	aisles, err := h.service.GetAll(ctx)
	if err != nil {
		return domain.Aisle{}, false, err
	}
	for _, aisle := range aisles {
		if aisle.ID == id {
			return aisle, true, nil
		}
	}
	return domain.Aisle{}, false, nil
}
