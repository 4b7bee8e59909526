// Package ragcontext tracks the single active retrieval context and the raw
// context input the learner is editing.
package ragcontext

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/conceptlab-chat/internal/backend"
	"github.com/ashureev/conceptlab-chat/internal/domain"
)

// SetResult is the outcome of a set-context call.
type SetResult struct {
	IndexName string
	Err       error
}

// ClearResult is the outcome of a clear-all call.
type ClearResult struct {
	Err error
}

// Store owns the active context. SetContext and ClearAll are not serialized
// against each other; overlapping calls are a caller error.
type Store struct {
	api      backend.ContextAPI
	logger   *slog.Logger
	onChange func()

	mu        sync.RWMutex
	indexName string
	draft     string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOnChange registers a callback invoked after every state mutation.
func WithOnChange(fn func()) Option {
	return func(s *Store) { s.onChange = fn }
}

// NewStore creates a store with no active context.
func NewStore(api backend.ContextAPI, opts ...Option) *Store {
	s := &Store{api: api, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetContext indexes input on the server and makes the returned context
// active. Input must be non-empty and already trimmed. On failure the
// previous context stays active.
func (s *Store) SetContext(ctx context.Context, input string) error {
	src := Classify(input)
	s.logger.Info("Setting RAG context", "source", src.Kind.String(), "input_length", len(input))

	resp, err := s.api.SetContext(ctx, src.Request())
	return s.applySet(SetResult{IndexName: resp.IndexName, Err: err})
}

func (s *Store) applySet(res SetResult) error {
	if res.Err != nil {
		s.logger.Warn("Set context failed, keeping previous context",
			"index_name", s.IndexName(),
			"error", res.Err,
		)
		return res.Err
	}

	s.mu.Lock()
	previous := s.indexName
	s.indexName = res.IndexName
	s.draft = ""
	s.mu.Unlock()
	s.notify()

	s.logger.Info("RAG context set", "index_name", res.IndexName, "previous", previous)
	return nil
}

// ClearAll deletes every context on the server. Local state is only cleared
// once the server confirmed the deletion.
func (s *Store) ClearAll(ctx context.Context) error {
	err := s.api.ClearContexts(ctx)
	return s.applyClear(ClearResult{Err: err})
}

func (s *Store) applyClear(res ClearResult) error {
	if res.Err != nil {
		s.logger.Warn("Clear contexts failed, keeping local context",
			"index_name", s.IndexName(),
			"error", res.Err,
		)
		return res.Err
	}

	s.mu.Lock()
	s.indexName = ""
	s.draft = ""
	s.mu.Unlock()
	s.notify()

	s.logger.Info("RAG contexts cleared")
	return nil
}

// IndexName returns the active context identifier, or "" when none is set.
func (s *Store) IndexName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexName
}

// Context returns the active context.
func (s *Store) Context() domain.RagContext {
	return domain.RagContext{IndexName: s.IndexName()}
}

// Draft returns the raw context input.
func (s *Store) Draft() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft
}

// SetDraft replaces the raw context input.
func (s *Store) SetDraft(draft string) {
	s.mu.Lock()
	s.draft = draft
	s.mu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
