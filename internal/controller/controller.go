// Package controller is the composition root the page shell talks to. It
// turns user intent into calls on the chat session and the context store and
// publishes a read-only View after every change.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/conceptlab-chat/internal/backend"
	"github.com/ashureev/conceptlab-chat/internal/chat"
	"github.com/ashureev/conceptlab-chat/internal/domain"
	"github.com/ashureev/conceptlab-chat/internal/ragcontext"
)

var (
	// ErrSendBlocked is returned when the send gate is closed. No request is issued.
	ErrSendBlocked = errors.New("send blocked")
	// ErrContextBusy is returned while a context operation is in flight.
	ErrContextBusy = errors.New("context operation in flight")
	// ErrEmptyContext is returned when the context draft is blank.
	ErrEmptyContext = errors.New("context input is empty")
)

// View is everything a page shell needs to render the chat widget.
type View struct {
	SessionID       string            `json:"session_id"`
	Turns           []domain.Turn     `json:"turns"`
	Status          domain.Status     `json:"status"`
	Context         domain.RagContext `json:"context"`
	RAGMode         bool              `json:"rag_mode"`
	Mode            string            `json:"mode"`
	MessageDraft    string            `json:"message_draft"`
	ContextDraft    string            `json:"context_draft"`
	SettingContext  bool              `json:"setting_context"`
	ClearingContext bool              `json:"clearing_context"`
	Error           string            `json:"error,omitempty"`
	CanSend         bool              `json:"can_send"`
}

// Controller wires intents to a chat.Session and a ragcontext.Store.
type Controller struct {
	session   *chat.Session
	contexts  *ragcontext.Store
	logger    *slog.Logger
	sessionID string

	mu              sync.Mutex
	ragMode         bool
	messageDraft    string
	sending         bool
	settingContext  bool
	clearingContext bool
	lastErr         string

	listenersMu sync.RWMutex
	listeners   map[int]func(View)
	nextID      int
}

// Config holds controller dependencies.
type Config struct {
	Chat      backend.ChatOpener
	Contexts  backend.ContextAPI
	Logger    *slog.Logger
	ClientID  string
	SessionID string
	Recorders []chat.Recorder
}

// New builds a controller with a fresh session and an empty context store.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		logger:    logger,
		sessionID: cfg.SessionID,
		listeners: make(map[int]func(View)),
	}

	opts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithIdentity(cfg.ClientID, cfg.SessionID),
		chat.WithOnChange(c.publish),
	}
	for _, r := range cfg.Recorders {
		opts = append(opts, chat.WithRecorder(r))
	}
	c.session = chat.NewSession(cfg.Chat, opts...)
	c.contexts = ragcontext.NewStore(cfg.Contexts,
		ragcontext.WithLogger(logger),
		ragcontext.WithOnChange(c.publish),
	)
	return c
}

// View returns the current view model.
func (c *Controller) View() View {
	turns, status := c.session.Snapshot()
	rag := c.contexts.Context()
	contextDraft := c.contexts.Draft()

	c.mu.Lock()
	defer c.mu.Unlock()
	if turns == nil {
		turns = []domain.Turn{}
	}
	return View{
		SessionID:       c.sessionID,
		Turns:           turns,
		Status:          status,
		Context:         rag,
		RAGMode:         c.ragMode,
		Mode:            domain.ModeFor(c.ragMode).String(),
		MessageDraft:    c.messageDraft,
		ContextDraft:    contextDraft,
		SettingContext:  c.settingContext,
		ClearingContext: c.clearingContext,
		Error:           c.lastErr,
		CanSend:         domain.CanSend(c.sending || status.Busy(), c.messageDraft, c.ragMode, rag.IndexName),
	}
}

// CanSend reports the send gate.
func (c *Controller) CanSend() bool {
	return c.View().CanSend
}

// Subscribe registers fn to receive a View after every change. The returned
// function removes the subscription.
func (c *Controller) Subscribe(fn func(View)) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Controller) publish() {
	c.listenersMu.RLock()
	if len(c.listeners) == 0 {
		c.listenersMu.RUnlock()
		return
	}
	fns := make([]func(View), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.RUnlock()

	v := c.View()
	for _, fn := range fns {
		fn(v)
	}
}

// SetMessageDraft replaces the message being typed.
func (c *Controller) SetMessageDraft(message string) {
	c.mu.Lock()
	c.messageDraft = message
	c.mu.Unlock()
	c.publish()
}

// SetRAGMode switches between direct and RAG requests. It never touches the
// conversation or the active context.
func (c *Controller) SetRAGMode(enabled bool) {
	c.mu.Lock()
	c.ragMode = enabled
	c.mu.Unlock()
	c.publish()
}

// ToggleRAGMode flips RAG mode and returns the new value.
func (c *Controller) ToggleRAGMode() bool {
	c.mu.Lock()
	c.ragMode = !c.ragMode
	enabled := c.ragMode
	c.mu.Unlock()
	c.publish()
	return enabled
}

// SetContextDraft replaces the raw context input.
func (c *Controller) SetContextDraft(input string) {
	c.contexts.SetDraft(input)
}

// Send dispatches the message draft when the send gate is open. It blocks
// until the reply stream ends or fails.
func (c *Controller) Send(ctx context.Context) error {
	indexName := c.contexts.IndexName()
	busy := c.session.Status().Busy()

	c.mu.Lock()
	message := c.messageDraft
	ragMode := c.ragMode
	if !domain.CanSend(c.sending || busy, message, ragMode, indexName) {
		c.mu.Unlock()
		return ErrSendBlocked
	}
	c.sending = true
	c.messageDraft = ""
	c.lastErr = ""
	c.mu.Unlock()
	c.publish()

	err := c.session.Send(ctx, message, ragMode, indexName)

	c.mu.Lock()
	c.sending = false
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
	c.publish()
	return err
}

// SetContext submits the trimmed context draft.
func (c *Controller) SetContext(ctx context.Context) error {
	input := strings.TrimSpace(c.contexts.Draft())
	if input == "" {
		return ErrEmptyContext
	}

	c.mu.Lock()
	if c.settingContext || c.clearingContext {
		c.mu.Unlock()
		return ErrContextBusy
	}
	c.settingContext = true
	c.lastErr = ""
	c.mu.Unlock()
	c.publish()

	err := c.contexts.SetContext(ctx, input)

	c.mu.Lock()
	c.settingContext = false
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
	c.publish()
	return err
}

// ClearContexts wipes every server-side context.
func (c *Controller) ClearContexts(ctx context.Context) error {
	c.mu.Lock()
	if c.settingContext || c.clearingContext {
		c.mu.Unlock()
		return ErrContextBusy
	}
	c.clearingContext = true
	c.lastErr = ""
	c.mu.Unlock()
	c.publish()

	err := c.contexts.ClearAll(ctx)

	c.mu.Lock()
	c.clearingContext = false
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
	c.publish()
	return err
}

// Reset starts a new conversation. The active context is kept.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return chat.ErrBusy
	}
	c.mu.Unlock()

	if err := c.session.Reset(); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()
	c.publish()
	return nil
}

// SessionID returns the page session this controller serves.
func (c *Controller) SessionID() string { return c.sessionID }
