package ragcontext

import (
	"net/url"

	"github.com/ashureev/conceptlab-chat/internal/backend"
)

// SourceKind tags how context input is sent to the backend.
type SourceKind int

const (
	SourceText SourceKind = iota
	SourceURL
)

func (k SourceKind) String() string {
	if k == SourceURL {
		return "url"
	}
	return "text"
}

// Source is classified context input.
type Source struct {
	Kind  SourceKind
	Value string
}

// hostSchemes need an authority to count as an absolute URL.
var hostSchemes = map[string]bool{
	"http": true, "https": true, "ftp": true, "ws": true, "wss": true,
}

// Classify treats input that parses as an absolute URL as a URL and
// everything else as text. It is a heuristic: malformed URL-like strings fall
// through to text without an error.
func Classify(input string) Source {
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" {
		return Source{Kind: SourceText, Value: input}
	}
	if hostSchemes[u.Scheme] && u.Host == "" {
		return Source{Kind: SourceText, Value: input}
	}
	return Source{Kind: SourceURL, Value: input}
}

// Request builds the set-context body for the source.
func (s Source) Request() backend.ContextRequest {
	if s.Kind == SourceURL {
		return backend.ContextRequest{URL: s.Value}
	}
	return backend.ContextRequest{Text: s.Value}
}
