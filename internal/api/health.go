package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/bridge"
	"github.com/ashureev/conceptlab-chat/internal/config"
	"github.com/ashureev/conceptlab-chat/internal/store"
	"github.com/go-chi/chi/v5"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo     store.Repository
	registry *bridge.Registry
	cfg      *config.Config
}

// NewHealthHandler creates a new health handler. repo may be nil.
func NewHealthHandler(repo store.Repository, registry *bridge.Registry, cfg *config.Config) *HealthHandler {
	return &HealthHandler{repo: repo, registry: registry, cfg: cfg}
}

// Health returns the health status of the bridge and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthCheckTimeout := 5 * time.Second
	if h.cfg != nil && h.cfg.HealthCheckTimeout > 0 {
		healthCheckTimeout = h.cfg.HealthCheckTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{"status": "healthy", "checks": checks}
	statusCode := http.StatusOK

	switch {
	case h.repo == nil:
		checks["database"] = "disabled"
	case h.repo.Ping(ctx) != nil:
		slog.Error("Health check failed", "check", "database")
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	default:
		checks["database"] = "ok"
	}
	if h.registry != nil {
		status["sessions"] = h.registry.Len()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
