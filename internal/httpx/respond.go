package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BimaPangestu28/Syntra-sub003/internal/repository"
	"github.com/BimaPangestu28/Syntra-sub003/internal/service/strategy"
)

// apiError is the error half of the response envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

// writeJSON writes a raw JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeData wraps payload in the success envelope.
func writeData(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, envelope{Success: true, Data: payload})
}

// writeError sends an enveloped error with a stable machine code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: &apiError{Code: code, Message: msg}})
}

// respondError maps domain errors onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, strategy.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, strategy.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, repository.ErrVersionConflict):
		writeError(w, http.StatusConflict, "conflict", "concurrent strategy update, retry")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
