// Package backend is the HTTP transport to the Concept Lab API: the streaming
// chat endpoint and the RAG context endpoints.
package backend

import "time"

// Endpoint paths relative to the configured base URL.
const (
	ChatPath          = "/api/rag_elasticsearch/chat"
	SetContextPath    = "/api/context/set"
	ClearContextsPath = "/api/context/all"
)

// RequestIDHeader carries the per-request identifier to the backend.
const RequestIDHeader = "X-Request-ID"

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Message   string `json:"message"`
	RAGMode   bool   `json:"rag_mode"`
	IndexName string `json:"index_name"`
}

// ContextRequest is the body of a set-context call. Exactly one field is set.
type ContextRequest struct {
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

// ContextResponse is returned by a successful set-context call.
type ContextResponse struct {
	IndexName string `json:"index_name"`
}

// ClientConfig holds configuration for the HTTP client.
type ClientConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadSize       int
	UserAgent      string
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://localhost:8000",
		ConnectTimeout: 10 * time.Second,
		ReadSize:       32 * 1024,
		UserAgent:      "conceptlab-chat",
	}
}
