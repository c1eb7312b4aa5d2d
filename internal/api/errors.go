package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"refi-rate-alerts/internal/service"
	"refi-rate-alerts/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeServiceError maps service and storage sentinels onto status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"message": verr.Error(),
				"type":    "invalid_request_error",
				"fields":  verr.Fields,
			},
		})
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, service.ErrSessionActive), errors.Is(err, service.ErrInvalidTransition):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case errors.Is(err, service.ErrMissingProfile), errors.Is(err, service.ErrMissingContact):
		httpError(w, http.StatusUnprocessableEntity, "precondition_error", "%v", err)
	case errors.Is(err, service.ErrMailerNotConfigured), errors.Is(err, storage.ErrNotConfigured):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
