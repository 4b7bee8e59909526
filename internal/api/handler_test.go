//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/backend"
	"github.com/ashureev/conceptlab-chat/internal/bridge"
	"github.com/ashureev/conceptlab-chat/internal/config"
	"github.com/ashureev/conceptlab-chat/internal/controller"
	"github.com/ashureev/conceptlab-chat/internal/domain"
	"github.com/ashureev/conceptlab-chat/internal/identity"
	"github.com/go-chi/chi/v5"
)

type fakeRepo struct {
	mu      sync.Mutex
	turns   []domain.TurnRecord
	pingErr error
}

func (f *fakeRepo) AppendTurn(_ context.Context, rec domain.TurnRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, rec)
	return nil
}

func (f *fakeRepo) ListTurns(_ context.Context, clientID, sessionID string) ([]domain.TurnRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.TurnRecord{}
	for _, t := range f.turns {
		if t.ClientID == clientID && t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, clientID, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.turns[:0]
	var deleted int64
	for _, t := range f.turns {
		if t.ClientID == clientID && t.SessionID == sessionID {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	f.turns = kept
	return deleted, nil
}

func (f *fakeRepo) DeleteOlderThan(_ context.Context, _ time.Duration) (int64, error) { return 0, nil }

func (f *fakeRepo) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeRepo) Close() error { return nil }

type fakeBackend struct{}

func (fakeBackend) OpenChat(_ context.Context, _ backend.ChatRequest) (*backend.ChatStream, error) {
	return backend.NewChatStream(io.NopCloser(strings.NewReader("live reply")), "req"), nil
}

func (fakeBackend) SetContext(_ context.Context, _ backend.ContextRequest) (backend.ContextResponse, error) {
	return backend.ContextResponse{IndexName: "ctx"}, nil
}

func (fakeBackend) ClearContexts(_ context.Context) error { return nil }

func newRouter(repo *fakeRepo, registry *bridge.Registry, clientID string) http.Handler {
	cfg := config.Default()
	var base *Handler
	var health *HealthHandler
	if repo != nil {
		base = NewHandler(repo, registry, cfg)
		health = NewHealthHandler(repo, registry, cfg)
	} else {
		base = NewHandler(nil, registry, cfg)
		health = NewHealthHandler(nil, registry, cfg)
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := identity.WithIdentity(r.Context(), clientID, identity.DefaultSessionIDValue)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	NewSessionHandler(base).RegisterRoutes(r)
	health.RegisterHealth(r)
	return r
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestListTurnsFromArchive(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{turns: []domain.TurnRecord{
		{ClientID: "c1", SessionID: "tab-1", Seq: 0, Turn: domain.Turn{ID: "a", Role: domain.RoleUser, Content: "hi"}},
		{ClientID: "c1", SessionID: "tab-1", Seq: 1, Turn: domain.Turn{ID: "b", Role: domain.RoleAssistant, Content: "hello"}},
		{ClientID: "c2", SessionID: "tab-1", Seq: 0, Turn: domain.Turn{ID: "c", Role: domain.RoleUser, Content: "other client"}},
	}}
	h := newRouter(repo, bridge.NewRegistry(nil), "c1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/tab-1/turns", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got turnsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Source != "archive" || len(got.Turns) != 2 || got.Turns[1].Turn.Content != "hello" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestListTurnsFromLiveController(t *testing.T) {
	t.Parallel()

	registry := bridge.NewRegistry(func(clientID, sessionID string) *controller.Controller {
		return controller.New(controller.Config{Chat: fakeBackend{}, Contexts: fakeBackend{}, ClientID: clientID, SessionID: sessionID})
	})
	ctrl, opCtx := registry.Attach("c1", "tab-live", nil)
	ctrl.SetMessageDraft("hi")
	if err := ctrl.Send(opCtx); err != nil {
		t.Fatalf("Send: %v", err)
	}

	h := newRouter(nil, registry, "c1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/tab-live/turns", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got turnsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Source != "live" || len(got.Turns) != 2 || got.Turns[1].Turn.Content != "live reply" {
		t.Fatalf("unexpected response: %+v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/unknown/turns", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestDeleteTurns(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{turns: []domain.TurnRecord{
		{ClientID: "c1", SessionID: "tab-1", Turn: domain.Turn{ID: "a"}},
		{ClientID: "c1", SessionID: "tab-2", Turn: domain.Turn{ID: "b"}},
	}}
	h := newRouter(repo, bridge.NewRegistry(nil), "c1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/tab-1/turns", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(repo.turns) != 1 || repo.turns[0].SessionID != "tab-2" {
		t.Fatalf("unexpected remaining turns: %+v", repo.turns)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	h := newRouter(repo, bridge.NewRegistry(nil), "c1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	repo.pingErr = errors.New("disk gone")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHealthWithoutArchive(t *testing.T) {
	t.Parallel()

	h := newRouter(nil, bridge.NewRegistry(nil), "c1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"database":"disabled"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
