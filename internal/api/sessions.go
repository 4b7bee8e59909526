package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/conceptlab-chat/internal/domain"
	"github.com/ashureev/conceptlab-chat/internal/identity"
	"github.com/go-chi/chi/v5"
)

// turnsResponse lists a session's turns. Source is "archive" when read from
// the database and "live" when read from the connected controller.
type turnsResponse struct {
	SessionID string              `json:"session_id"`
	Source    string              `json:"source"`
	Turns     []domain.TurnRecord `json:"turns"`
}

// SessionHandler serves per-session conversation history.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/sessions/{sessionID}/turns", h.ListTurns)
		r.Delete("/sessions/{sessionID}/turns", h.DeleteTurns)
	})
}

// GetConfig returns the settings the page shell needs.
func (h *SessionHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"archive_enabled":    h.repo != nil,
		"transcript_enabled": h.cfg != nil && h.cfg.Transcript.Enabled,
		"session_header":     identity.SessionHeaderName,
	})
}

// ListTurns returns the caller's turns for a session.
func (h *SessionHandler) ListTurns(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if h.repo != nil {
		turns, err := h.repo.ListTurns(r.Context(), clientID, sessionID)
		if err != nil {
			slog.Error("Failed to list turns", "error", err, "client_id", clientID, "session_id", sessionID)
			Error(w, http.StatusInternalServerError, "failed to load turns")
			return
		}
		JSON(w, http.StatusOK, turnsResponse{SessionID: sessionID, Source: "archive", Turns: turns})
		return
	}

	ctrl := h.registry.Controller(clientID, sessionID)
	if ctrl == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	view := ctrl.View()
	turns := make([]domain.TurnRecord, 0, len(view.Turns))
	for i, t := range view.Turns {
		turns = append(turns, domain.TurnRecord{ClientID: clientID, SessionID: sessionID, Seq: i, Turn: t})
	}
	JSON(w, http.StatusOK, turnsResponse{SessionID: sessionID, Source: "live", Turns: turns})
}

// DeleteTurns removes the caller's archived turns for a session.
func (h *SessionHandler) DeleteTurns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		Error(w, http.StatusNotFound, "archive disabled")
		return
	}
	clientID := identity.ClientIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	deleted, err := h.repo.DeleteSession(r.Context(), clientID, sessionID)
	if err != nil {
		slog.Error("Failed to delete turns", "error", err, "client_id", clientID, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to delete turns")
		return
	}
	slog.Info("Archived turns deleted", "client_id", clientID, "session_id", sessionID, "count", deleted)
	JSON(w, http.StatusOK, map[string]any{"status": "deleted", "deleted": deleted})
}
