// Package chat owns the conversation history and the lifecycle of a streamed
// chat request: Idle -> Sending -> Streaming -> Idle, with Error reachable
// from Sending or Streaming and left only by a new Send.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/backend"
	"github.com/ashureev/conceptlab-chat/internal/domain"
)

// ErrBusy is returned by Reset while a request is in flight.
var ErrBusy = errors.New("chat request in flight")

// Recorder receives every finished turn. User turns are recorded when
// appended; assistant turns when their stream ends or fails. RecordTurn is
// called on the request path and must not block.
type Recorder interface {
	RecordTurn(rec domain.TurnRecord)
}

// Session is a single conversation with the chat endpoint.
//
// Only one Send may be in flight at a time. The session does not guard
// against overlapping calls; callers enforce it through the send gate.
type Session struct {
	api       backend.ChatOpener
	logger    *slog.Logger
	clientID  string
	sessionID string
	recorders []Recorder
	onChange  func()

	mu     sync.RWMutex
	turns  []domain.Turn
	status domain.Status
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIdentity tags recorded turns with the page client and session.
func WithIdentity(clientID, sessionID string) Option {
	return func(s *Session) {
		s.clientID = clientID
		s.sessionID = sessionID
	}
}

// WithRecorder adds a turn recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorders = append(s.recorders, r)
		}
	}
}

// WithOnChange registers a callback invoked after every state mutation,
// outside the session lock.
func WithOnChange(fn func()) Option {
	return func(s *Session) { s.onChange = fn }
}

// NewSession creates an idle session with an empty history.
func NewSession(api backend.ChatOpener, opts ...Option) *Session {
	s := &Session{
		api:    api,
		logger: slog.Default(),
		status: domain.Idle(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send appends a user turn, streams the reply into a new assistant turn and
// returns the error that moved the session to Error, if any.
//
// Preconditions: message is non-empty and, in RAG mode, indexName is set.
// Send does not re-validate them; a misused call issues a doomed request.
// Context cancellation is handled like a dropped connection.
func (s *Session) Send(ctx context.Context, message string, ragMode bool, indexName string) error {
	s.mu.Lock()
	userSeq := len(s.turns)
	user := domain.NewTurn(domain.RoleUser, message)
	s.turns = append(s.turns, user)
	s.status = domain.Status{Phase: domain.PhaseSending}
	s.mu.Unlock()
	s.notify()

	s.record(domain.TurnRecord{Seq: userSeq, Turn: user, RAGMode: ragMode, IndexName: indexName})

	s.logger.Info("Chat request",
		"session_id", s.sessionID,
		"mode", domain.ModeFor(ragMode).String(),
		"index_name", indexName,
		"message_length", len(message),
	)

	stream, err := s.api.OpenChat(ctx, backend.ChatRequest{
		Message:   message,
		RAGMode:   ragMode,
		IndexName: indexName,
	})
	if err != nil {
		s.logger.Error("Chat request failed", "session_id", s.sessionID, "error", err)
		s.setStatus(domain.Failed(err.Error()))
		return err
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			s.logger.Debug("failed to close chat stream", "error", closeErr)
		}
	}()

	s.mu.Lock()
	assistantSeq := len(s.turns)
	s.turns = append(s.turns, domain.NewTurn(domain.RoleAssistant, ""))
	s.status = domain.Status{Phase: domain.PhaseStreaming}
	s.mu.Unlock()
	s.notify()

	var reply strings.Builder
	chunks := 0
	for chunk, err := range stream.Chunks() {
		if err != nil {
			s.logger.Error("Chat stream failed",
				"session_id", s.sessionID,
				"request_id", stream.RequestID(),
				"chunks", chunks,
				"error", err,
			)
			s.setStatus(domain.Failed(err.Error()))
			s.recordAssistant(assistantSeq, stream.RequestID(), ragMode, indexName, chunks, err)
			return err
		}
		reply.WriteString(chunk)
		chunks++
		s.applyChunk(assistantSeq, reply.String())
	}

	s.setStatus(domain.Idle())
	s.recordAssistant(assistantSeq, stream.RequestID(), ragMode, indexName, chunks, nil)
	s.logger.Info("Chat stream complete",
		"session_id", s.sessionID,
		"request_id", stream.RequestID(),
		"chunks", chunks,
		"reply_length", reply.Len(),
	)
	return nil
}

// applyChunk replaces the streaming turn's content with the accumulated reply
// in a single mutation, so readers never see half a chunk.
func (s *Session) applyChunk(seq int, content string) {
	s.mu.Lock()
	s.turns[seq].Content = content
	s.mu.Unlock()
	s.notify()
}

func (s *Session) setStatus(st domain.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.notify()
}

func (s *Session) recordAssistant(seq int, requestID string, ragMode bool, indexName string, chunks int, streamErr error) {
	s.mu.RLock()
	turn := s.turns[seq]
	s.mu.RUnlock()

	rec := domain.TurnRecord{
		Seq:          seq,
		Turn:         turn,
		RAGMode:      ragMode,
		IndexName:    indexName,
		RequestID:    requestID,
		StreamChunks: chunks,
	}
	if streamErr != nil {
		rec.Partial = true
		rec.StreamError = streamErr.Error()
	}
	s.record(rec)
}

func (s *Session) record(rec domain.TurnRecord) {
	rec.ClientID = s.clientID
	rec.SessionID = s.sessionID
	rec.RecordedAt = time.Now().UTC()
	for _, r := range s.recorders {
		r.RecordTurn(rec)
	}
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// Turns returns a copy of the conversation in chronological order.
func (s *Session) Turns() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Status returns the current lifecycle status.
func (s *Session) Status() domain.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot returns turns and status read under one lock.
func (s *Session) Snapshot() ([]domain.Turn, domain.Status) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out, s.status
}

// Reset discards the conversation and returns to Idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.status.Busy() {
		s.mu.Unlock()
		return ErrBusy
	}
	s.turns = nil
	s.status = domain.Idle()
	s.mu.Unlock()
	s.notify()
	s.logger.Info("Chat session reset", "session_id", s.sessionID)
	return nil
}

// ID returns the session identifier used for recording.
func (s *Session) ID() string { return s.sessionID }
