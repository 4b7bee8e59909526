package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork means the request could not be sent or no response headers arrived.
	ErrNetwork = errors.New("network failure")
	// ErrServer means the backend answered with a non-2xx status.
	ErrServer = errors.New("server error")
	// ErrStreamInterrupted means the connection dropped after the headers.
	ErrStreamInterrupted = errors.New("stream interrupted")
	// ErrInvalidResponse means a 2xx body could not be understood.
	ErrInvalidResponse = errors.New("invalid response")
)

const maxDetailLength = 200

// StatusError reports a non-2xx response. It unwraps to ErrServer.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP error! status: %d: %s", e.StatusCode, e.Detail)
}

func (e *StatusError) Unwrap() error { return ErrServer }

// errorDetail extracts a display message from an error body. FastAPI puts it
// under "detail"; other services use "error" or "message".
func errorDetail(body []byte) string {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return ""
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return truncate(s)
			}
		}
	}
	return truncate(raw)
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxDetailLength {
		return s
	}
	return string(runes[:maxDetailLength]) + "..."
}
