package backend

import "context"

// ChatOpener opens a streaming chat request.
type ChatOpener interface {
	// OpenChat returns once the response headers arrived with a 2xx status.
	OpenChat(ctx context.Context, req ChatRequest) (*ChatStream, error)
}

// ContextAPI manages server-side retrieval contexts.
type ContextAPI interface {
	// SetContext indexes text or a URL and returns the new context identifier.
	SetContext(ctx context.Context, req ContextRequest) (ContextResponse, error)

	// ClearContexts deletes every stored context on the server.
	ClearContexts(ctx context.Context) error
}

// Ensure Client implements both interfaces.
var (
	_ ChatOpener = (*Client)(nil)
	_ ContextAPI = (*Client)(nil)
)
