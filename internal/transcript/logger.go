// Package transcript writes a per-session NDJSON log of every chat turn.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/chat"
	"github.com/ashureev/conceptlab-chat/internal/domain"
)

const (
	channelChat = "chat_http"

	defaultQueueSize = 256
)

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one line of a transcript file.
type Event struct {
	Timestamp  string         `json:"ts"`
	ClientID   string         `json:"client_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Logger queues events and appends them to dir/<client>/<session>.ndjson
// from a single background writer. A disabled Logger drops everything.
type Logger struct {
	dir    string
	logger *slog.Logger
	queue  chan Event

	mu     sync.Mutex
	closed bool
	files  map[string]*os.File
	wg     sync.WaitGroup
}

var _ chat.Recorder = (*Logger)(nil)

// NewLogger creates a transcript logger and starts its writer.
func NewLogger(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{logger: logger, files: make(map[string]*os.File)}
	if !cfg.Enabled {
		return l, nil
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("transcript dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	l.dir = cfg.Dir
	l.queue = make(chan Event, size)
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Enabled reports whether events are written.
func (l *Logger) Enabled() bool { return l.queue != nil }

// Log queues an event. It never blocks; events are dropped when the queue
// is full or the logger is closed.
func (l *Logger) Log(ev Event) {
	if l.queue == nil {
		return
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Transcript queue full, dropping event",
			"session_id", ev.SessionID,
			"event_type", ev.EventType,
		)
	}
}

// RecordTurn logs a finished chat turn.
func (l *Logger) RecordTurn(rec domain.TurnRecord) {
	ev := Event{
		Timestamp:  rec.RecordedAt.Format(time.RFC3339Nano),
		ClientID:   rec.ClientID,
		SessionID:  rec.SessionID,
		Channel:    channelChat,
		ContentRaw: rec.Turn.Content,
		Meta: map[string]any{
			"turn_id":    rec.Turn.ID,
			"seq":        rec.Seq,
			"mode":       domain.ModeFor(rec.RAGMode).String(),
			"index_name": rec.IndexName,
		},
	}
	if rec.RecordedAt.IsZero() {
		ev.Timestamp = ""
	}

	switch rec.Turn.Role {
	case domain.RoleUser:
		ev.Direction = "outbound"
		ev.EventType = "chat_user_message"
	default:
		ev.Direction = "inbound"
		ev.EventType = "chat_assistant_message"
		ev.Meta["stream_chunks"] = rec.StreamChunks
		ev.Meta["partial"] = rec.Partial
		ev.Meta["stream_error"] = rec.StreamError
		ev.Meta["request_id"] = rec.RequestID
	}
	l.Log(ev)
}

// Close flushes queued events and closes all files.
func (l *Logger) Close() error {
	if l.queue == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()

	var errs []error
	for path, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Logger) run() {
	defer l.wg.Done()
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.logger.Warn("Failed to write transcript event",
				"session_id", ev.SessionID,
				"error", err,
			)
		}
	}
}

func (l *Logger) write(ev Event) error {
	path := filepath.Join(l.dir, safeSegment(ev.ClientID), safeSegment(ev.SessionID)+".ndjson")
	f, ok := l.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create client dir: %w", err)
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		l.files[path] = f
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safeSegment(s string) string {
	s = unsafeSegment.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "anonymous"
	}
	return s
}

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// cleanForReadability strips terminal escapes and control characters and
// normalizes line endings.
func cleanForReadability(s string) string {
	s = ansiSequence.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
