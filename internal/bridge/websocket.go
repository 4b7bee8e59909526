package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/controller"
	"github.com/ashureev/conceptlab-chat/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	writeTimeout   = 10 * time.Second
	outboxSize     = 16
	readLimitSize  = 1 << 20
	maxInflightOps = 4
)

// ErrTooManyOperations is reported when a page starts more blocking
// operations than one connection may run at once.
var ErrTooManyOperations = errors.New("too many operations in flight")

// Intent types accepted from the page shell.
const (
	IntentMessageDraft  = "message_draft"
	IntentContextDraft  = "context_draft"
	IntentRAGMode       = "rag_mode"
	IntentSend          = "send"
	IntentSetContext    = "set_context"
	IntentClearContexts = "clear_contexts"
	IntentReset         = "reset"
	IntentPing          = "ping"
)

// Intent is an inbound page shell message.
type Intent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// Frame is an outbound message.
type Frame struct {
	Type  string           `json:"type"`
	View  *controller.View `json:"view,omitempty"`
	Error string           `json:"error,omitempty"`
}

// Handler upgrades page shell connections and drives their controllers.
type Handler struct {
	registry       *Registry
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a WebSocket handler. An empty allowedOrigins list or a
// "*" entry accepts any origin.
func NewHandler(registry *Registry, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		registry:       registry,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// conn is the per-connection state shared by the read and write loops.
type conn struct {
	ws        *websocket.Conn
	ctrl      *controller.Controller
	opCtx     context.Context
	clientID  string
	sessionID string

	dirty  chan struct{}
	outbox chan Frame
	ops    chan struct{}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request",
		"client_id", clientID,
		"session_id", sessionID,
		"ip", identity.IPFromRequest(r),
	)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	ws.SetReadLimit(readLimitSize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()

	ctrl, opCtx := h.registry.Attach(clientID, sessionID, ws)
	defer h.registry.Detach(clientID, sessionID, ws)

	c := &conn{
		ws:        ws,
		ctrl:      ctrl,
		opCtx:     opCtx,
		clientID:  clientID,
		sessionID: sessionID,
		dirty:     make(chan struct{}, 1),
		outbox:    make(chan Frame, outboxSize),
		ops:       make(chan struct{}, maxInflightOps),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unsubscribe := ctrl.Subscribe(func(controller.View) { c.markDirty() })
	defer unsubscribe()
	c.markDirty()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		c.writeLoop(ctx)
	}()

	c.readLoop(ctx)
	cancel()
	<-done
	slog.Info("Chat connection ended", "client_id", clientID, "session_id", sessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	if slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

// markDirty schedules a view frame. Pending notifications coalesce; the
// writer always sends the latest view.
func (c *conn) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func (c *conn) reject(err error) {
	select {
	case c.outbox <- Frame{Type: "error", Error: err.Error()}:
	default:
		slog.Warn("Outbox full, dropping error frame", "session_id", c.sessionID, "error", err)
	}
}

func (c *conn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				slog.Debug("WebSocket closed by client", "client_id", c.clientID)
			case errors.Is(err, context.Canceled):
			default:
				slog.Warn("WebSocket read error", "error", err, "client_id", c.clientID)
			}
			return
		}

		var msg Intent
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reject(fmt.Errorf("malformed intent: %w", err))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *conn) dispatch(msg Intent) {
	slog.Debug("Chat intent", "session_id", c.sessionID, "type", msg.Type)

	switch msg.Type {
	case IntentMessageDraft:
		c.ctrl.SetMessageDraft(msg.Content)
	case IntentContextDraft:
		c.ctrl.SetContextDraft(msg.Content)
	case IntentRAGMode:
		if msg.Enabled == nil {
			c.ctrl.ToggleRAGMode()
		} else {
			c.ctrl.SetRAGMode(*msg.Enabled)
		}
	case IntentSend:
		c.run(c.ctrl.Send)
	case IntentSetContext:
		c.run(c.ctrl.SetContext)
	case IntentClearContexts:
		c.run(c.ctrl.ClearContexts)
	case IntentReset:
		if err := c.ctrl.Reset(); err != nil {
			c.reject(err)
		}
	case IntentPing:
		select {
		case c.outbox <- Frame{Type: "pong"}:
		default:
		}
	default:
		c.reject(errors.New("unknown intent: " + msg.Type))
	}
}

// run starts a blocking controller operation. Gate rejections are reported
// to the page; backend failures already show up in the view. At most
// maxInflightOps operations run per connection; extra intents are rejected.
func (c *conn) run(op func(context.Context) error) {
	select {
	case c.ops <- struct{}{}:
	default:
		c.reject(ErrTooManyOperations)
		return
	}

	go func() {
		defer func() { <-c.ops }()
		err := op(c.opCtx)
		if errors.Is(err, controller.ErrSendBlocked) ||
			errors.Is(err, controller.ErrContextBusy) ||
			errors.Is(err, controller.ErrEmptyContext) {
			c.reject(err)
		}
	}()
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		var frame Frame
		select {
		case <-ctx.Done():
			return
		case <-c.dirty:
			view := c.ctrl.View()
			frame = Frame{Type: "view", View: &view}
		case frame = <-c.outbox:
		}

		if err := c.write(ctx, frame); err != nil {
			if ctx.Err() == nil {
				slog.Debug("WebSocket write error", "error", err, "client_id", c.clientID)
			}
			return
		}
	}
}

func (c *conn) write(ctx context.Context, frame Frame) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, c.ws, frame)
}
