// Package domain contains the chat types shared by the streaming session, the
// RAG context store and the controller.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a turn.
type Role string

const (
	// RoleUser marks a turn typed by the learner.
	RoleUser Role = "user"
	// RoleAssistant marks a turn streamed back by the backend.
	RoleAssistant Role = "assistant"
)

// Turn is one message in the conversation history.
type Turn struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewTurn returns a turn with a fresh identifier.
func NewTurn(role Role, content string) Turn {
	return Turn{ID: uuid.NewString(), Role: role, Content: content}
}

// TurnRecord is a finished turn together with the stream metadata observed
// while producing it. Recorders (transcript log, archive) consume it.
type TurnRecord struct {
	ClientID     string    `json:"client_id"`
	SessionID    string    `json:"session_id"`
	Seq          int       `json:"seq"`
	Turn         Turn      `json:"turn"`
	RAGMode      bool      `json:"rag_mode"`
	IndexName    string    `json:"index_name,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	StreamChunks int       `json:"stream_chunks"`
	Partial      bool      `json:"partial"`
	StreamError  string    `json:"stream_error,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}
