package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"vramd/internal/controller"
	"vramd/internal/supervisor"
	"vramd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeServiceError maps controller errors onto HTTP statuses and writes
// the payload. Memory rejections carry the required/available figures so
// clients can tell a transient squeeze from a model that never fits.
func writeServiceError(w http.ResponseWriter, err error) int {
	status := http.StatusInternalServerError
	payload := types.ErrorResponse{Error: err.Error()}

	var im *controller.InsufficientMemoryError
	switch {
	case controller.IsModelNotFound(err):
		status = http.StatusNotFound
	case controller.IsNotSupported(err):
		status = http.StatusBadRequest
	case errors.As(err, &im):
		status = http.StatusServiceUnavailable
		payload.RequiredBytes = im.RequiredBytes
		payload.AvailableBytes = im.AvailableBytes
	case supervisor.IsStartFailed(err), controller.IsUpstream(err):
		status = http.StatusBadGateway
	}

	payload.Code = status
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
	return status
}
