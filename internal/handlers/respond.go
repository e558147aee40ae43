package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/joakey/joakey/backend/internal/services"
	"github.com/joakey/joakey/backend/internal/store"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON is a helper function to write JSON responses
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError maps a service error to its HTTP status and writes it.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[HTTP] Internal error: %v", err)
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// StatusFor returns the HTTP status for a service error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrMediaUnavailable):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}
