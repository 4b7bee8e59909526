// Package bridge exposes chat controllers to a page shell over WebSocket.
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/conceptlab-chat/internal/controller"
	"github.com/coder/websocket"
)

// ControllerFactory builds the controller for a new page session.
type ControllerFactory func(clientID, sessionID string) *controller.Controller

// entry is one page session. ctx bounds every operation the session starts
// and is cancelled when the page disconnects for good.
type entry struct {
	ctrl   *controller.Controller
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Registry tracks one controller and one live connection per page session.
type Registry struct {
	newController ControllerFactory

	mu     sync.RWMutex
	active map[string]map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(factory ControllerFactory) *Registry {
	return &Registry{
		newController: factory,
		active:        make(map[string]map[string]*entry),
	}
}

// Controller returns the live controller for a client and session, or nil.
func (r *Registry) Controller(clientID, sessionID string) *controller.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sessions, ok := r.active[clientID]; ok {
		if e, ok := sessions[sessionID]; ok {
			return e.ctrl
		}
	}
	return nil
}

// Attach binds conn to the page session, creating its controller on first
// use. A connection already bound to the session is closed and replaced; its
// controller and in-flight operations carry over.
func (r *Registry) Attach(clientID, sessionID string, conn *websocket.Conn) (*controller.Controller, context.Context) {
	r.mu.Lock()

	if _, exists := r.active[clientID]; !exists {
		r.active[clientID] = make(map[string]*entry)
	}

	if e, exists := r.active[clientID][sessionID]; exists {
		replaced := e.conn
		e.conn = conn
		r.mu.Unlock()

		// A replaced page is usually stale and never answers a close
		// handshake, so it is dropped without one and outside the lock.
		if replaced != nil && replaced != conn {
			_ = replaced.CloseNow()
		}
		slog.Info("Chat session reattached", "client_id", clientID, "session_id", sessionID)
		return e.ctrl, e.ctx
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		ctrl:   r.newController(clientID, sessionID),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	r.active[clientID][sessionID] = e
	r.mu.Unlock()

	slog.Info("Chat session registered", "client_id", clientID, "session_id", sessionID)
	return e.ctrl, e.ctx
}

// Detach drops the page session if conn is still the one bound to it and
// cancels its in-flight operations. It reports whether the session was removed.
func (r *Registry) Detach(clientID, sessionID string, conn *websocket.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.active[clientID]
	if !ok {
		return false
	}
	e, exists := sessions[sessionID]
	if !exists || e.conn != conn {
		return false
	}

	e.cancel()
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.active, clientID)
	}
	slog.Info("Chat session unregistered", "client_id", clientID, "session_id", sessionID)
	return true
}

// CloseAll closes every connection and cancels every session. Close
// handshakes run concurrently and outside the registry lock.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	active := r.active
	r.active = make(map[string]map[string]*entry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for clientID, sessions := range active {
		for sid, e := range sessions {
			e.cancel()
			if e.conn != nil {
				wg.Add(1)
				go func(ws *websocket.Conn) {
					defer wg.Done()
					_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
				}(e.conn)
			}
			slog.Info("Chat session closed", "client_id", clientID, "session_id", sid)
		}
	}
	wg.Wait()
}

// Len returns the number of live page sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sessions := range r.active {
		n += len(sessions)
	}
	return n
}
