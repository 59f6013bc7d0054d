package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/playperu/geoquest/internal/geoquest"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeServiceError maps a domain error onto its HTTP status. Anything
// outside the taxonomy is logged and reported as an internal error.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		writeError(w, status, "internal", "internal error")
		return
	}
	writeError(w, status, geoquest.Code(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, geoquest.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, geoquest.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, geoquest.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, geoquest.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, geoquest.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
