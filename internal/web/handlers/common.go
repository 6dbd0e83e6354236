// Package handlers implements the HTTP API for the album pipeline.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/albumforge/albumforge/internal/session"
)

// maxUploadSize bounds a single multipart upload (references or events).
const maxUploadSize = 1 << 30 // 1 GiB

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondSessionError maps session and step errors to HTTP statuses. Step
// violations come back as 409 with a message naming the required step.
func respondSessionError(w http.ResponseWriter, err error) {
	var stepErr *session.StepError
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrForbidden):
		respondError(w, http.StatusForbidden, "session belongs to another user")
	case errors.As(err, &stepErr):
		respondError(w, http.StatusConflict, stepErr.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
