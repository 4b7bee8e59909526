// Package api provides the REST endpoints next to the chat WebSocket.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/conceptlab-chat/internal/bridge"
	"github.com/ashureev/conceptlab-chat/internal/config"
	"github.com/ashureev/conceptlab-chat/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	registry *bridge.Registry
	cfg      *config.Config
}

// NewHandler creates a Handler. repo may be nil when the archive is disabled.
func NewHandler(repo store.Repository, registry *bridge.Registry, cfg *config.Config) *Handler {
	return &Handler{repo: repo, registry: registry, cfg: cfg}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
