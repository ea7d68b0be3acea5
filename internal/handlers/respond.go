// internal/handlers/respond.go
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tbellec/medistock-be/internal/core/domain"
)

func respondJSON(logger *slog.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response",
			slog.String("error", err.Error()))
	}
}

func respondError(logger *slog.Logger, w http.ResponseWriter, status int, message string) {
	respondJSON(logger, w, status, map[string]string{"error": message})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateName), errors.Is(err, domain.ErrAisleNotEmpty):
		return http.StatusConflict
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondDomainError(logger *slog.Logger, w http.ResponseWriter, err error) {
	respondError(logger, w, statusForError(err), err.Error())
}
