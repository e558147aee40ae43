package handlers

import (
	"net/http"
)

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Backend string `json:"backend"`
}

// HealthCheck returns a handler for GET /health.
// It reports the server's health status and which backend it is using.
func HealthCheck(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Message: "Joakey backend is running",
			Backend: backend,
		})
	}
}
