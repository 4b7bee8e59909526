package backend

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ChatStream is an open chat response body. The body is a plain text stream
// with no framing; its decoded chunks concatenated in order are the reply.
type ChatStream struct {
	body      io.ReadCloser
	reader    io.Reader
	requestID string
	readSize  int
	closeOnce sync.Once
	closeErr  error
}

func newChatStream(body io.ReadCloser, requestID string, readSize int) *ChatStream {
	// The UTF-8 decoder carries an incomplete trailing sequence over to the
	// next read and replaces invalid bytes with U+FFFD.
	dec := unicode.UTF8BOM.NewDecoder()
	return &ChatStream{
		body:      body,
		reader:    transform.NewReader(body, dec),
		requestID: requestID,
		readSize:  readSize,
	}
}

// NewChatStream wraps an arbitrary body. Exposed for fakes in other packages.
func NewChatStream(body io.ReadCloser, requestID string) *ChatStream {
	return newChatStream(body, requestID, DefaultClientConfig().ReadSize)
}

// RequestID is the identifier sent with the request.
func (s *ChatStream) RequestID() string { return s.requestID }

// Chunks yields decoded text chunks in receipt order. A read failure other
// than a clean end of body is yielded once as ErrStreamInterrupted and ends
// the sequence.
func (s *ChatStream) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		buf := make([]byte, s.readSize)
		for {
			n, err := s.reader.Read(buf)
			if n > 0 {
				if !yield(string(buf[:n]), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("%w: %w", ErrStreamInterrupted, err))
				return
			}
		}
	}
}

// Close releases the response body. Safe to call more than once.
func (s *ChatStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
