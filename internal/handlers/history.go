// internal/handlers/history.go
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tbellec/medistock-be/internal/core/ports"
)

// HistoryHandler handles history-related HTTP requests
type HistoryHandler struct {
	service  ports.HistoryRepository
	pageSize int
	logger   *slog.Logger
}

// NewHistoryHandler creates a new history handler. pageSize is the limit
// applied to /recent when the client does not send one.
func NewHistoryHandler(service ports.HistoryRepository, pageSize int, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		service:  service,
		pageSize: pageSize,
		logger:   logger.With(slog.String("handler", "history")),
	}
}

// List handles GET /api/v1/history. With ?limit=N it serves the next
// cursor page, newest first.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		entries, err := h.service.GetAll(ctx)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to list history",
				slog.String("error", err.Error()))
			respondDomainError(h.logger, w, err)
			return
		}
		respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
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
		"entries":  page,
		"count":    len(page),
		"has_more": len(page) == limit,
	})
}

// Recent handles GET /api/v1/history/recent
func (h *HistoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := h.pageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			respondError(h.logger, w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := h.service.GetRecent(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load recent history",
			slog.String("error", err.Error()))
		respondDomainError(h.logger, w, err)
		return
	}

	respondJSON(h.logger, w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
