package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/chat"
	"github.com/ashureev/conceptlab-chat/internal/domain"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultQueueSize    = 256
)

// Archiver records chat turns into a Repository from a single background
// writer, so turns land in the order they were recorded. Write failures are
// logged and never reach the chat session.
type Archiver struct {
	repo    Repository
	logger  *slog.Logger
	timeout time.Duration
	queue   chan domain.TurnRecord

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ chat.Recorder = (*Archiver)(nil)

// NewArchiver wraps repo as a turn recorder and starts its writer. Call
// Close to flush queued turns.
func NewArchiver(repo Repository, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		repo:    repo,
		logger:  logger,
		timeout: defaultWriteTimeout,
		queue:   make(chan domain.TurnRecord, defaultQueueSize),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// RecordTurn queues rec for storage. It never blocks; turns are dropped when
// the queue is full or the archiver is closed.
func (a *Archiver) RecordTurn(rec domain.TurnRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- rec:
	default:
		a.logger.Warn("Archive queue full, dropping chat turn",
			"session_id", rec.SessionID,
			"turn_id", rec.Turn.ID,
		)
	}
}

// Close stores every queued turn and stops the writer.
func (a *Archiver) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for rec := range a.queue {
		a.store(rec)
	}
}

// store writes rec, retrying while the database is busy.
func (a *Archiver) store(rec domain.TurnRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	err := withRetry(ctx, "append turn", func(ctx context.Context) error {
		return a.repo.AppendTurn(ctx, rec)
	})
	if err != nil {
		a.logger.Error("Failed to archive chat turn",
			"session_id", rec.SessionID,
			"turn_id", rec.Turn.ID,
			"role", rec.Turn.Role,
			"error", err,
		)
	}
}
