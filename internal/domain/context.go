package domain

import "strings"

// RagContext is the single active retrieval context. An empty IndexName means
// no context is configured.
type RagContext struct {
	IndexName string `json:"index_name"`
}

// Active reports whether a context is configured.
func (c RagContext) Active() bool {
	return c.IndexName != ""
}

// CanSend is the send gate: nothing in flight, a non-blank message, and a
// configured context whenever RAG mode is on.
func CanSend(busy bool, message string, ragMode bool, indexName string) bool {
	if busy {
		return false
	}
	if strings.TrimSpace(message) == "" {
		return false
	}
	return !ragMode || indexName != ""
}
