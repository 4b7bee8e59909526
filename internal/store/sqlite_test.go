package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/backend"
	"github.com/ashureev/conceptlab-chat/internal/chat"
	"github.com/ashureev/conceptlab-chat/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(session string, seq int, role domain.Role, content string) domain.TurnRecord {
	return domain.TurnRecord{
		ClientID:   "client-1",
		SessionID:  session,
		Seq:        seq,
		Turn:       domain.NewTurn(role, content),
		RecordedAt: time.Now().UTC(),
	}
}

func TestAppendAndListTurns(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	user := record("s1", 0, domain.RoleUser, "What is a closure?")
	user.RAGMode = true
	user.IndexName = "ctx_1"
	assistant := record("s1", 1, domain.RoleAssistant, "A function with captured scope.")
	assistant.RequestID = "req-1"
	assistant.StreamChunks = 4

	for _, rec := range []domain.TurnRecord{user, assistant, record("s2", 0, domain.RoleUser, "other")} {
		if err := s.AppendTurn(ctx, rec); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	turns, err := s.ListTurns(ctx, "client-1", "s1")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Turn.Role != domain.RoleUser || !turns[0].RAGMode || turns[0].IndexName != "ctx_1" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Turn.Content != "A function with captured scope." || turns[1].StreamChunks != 4 || turns[1].RequestID != "req-1" {
		t.Fatalf("unexpected assistant turn: %+v", turns[1])
	}
}

func TestAppendTurnReplacesSameTurnID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	rec := record("s1", 1, domain.RoleAssistant, "par")
	rec.Partial = true
	rec.StreamError = "stream interrupted"
	if err := s.AppendTurn(ctx, rec); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	rec.Turn.Content = "partial reply"
	if err := s.AppendTurn(ctx, rec); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	turns, err := s.ListTurns(ctx, "client-1", "s1")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].Turn.Content != "partial reply" || !turns[0].Partial {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestListTurnsUnknownSessionIsEmpty(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	turns, err := s.ListTurns(context.Background(), "nobody", "nothing")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if turns == nil || len(turns) != 0 {
		t.Fatalf("turns = %#v, want empty slice", turns)
	}
}

func TestDeleteSessionAndRetention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	old := record("s1", 0, domain.RoleUser, "old")
	old.RecordedAt = time.Now().Add(-48 * time.Hour)
	for _, rec := range []domain.TurnRecord{old, record("s1", 1, domain.RoleAssistant, "new"), record("s2", 0, domain.RoleUser, "x")} {
		if err := s.AppendTurn(ctx, rec); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	deleted, err := s.DeleteOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expired deleted = %d, want 1", deleted)
	}

	deleted, err = s.DeleteSession(ctx, "client-1", "s1")
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("session deleted = %d, want 1", deleted)
	}

	turns, err := s.ListTurns(ctx, "client-1", "s2")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("other session turns = %d, want 1", len(turns))
	}
}

func TestArchiverRecordsTurns(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	a := NewArchiver(s, nil)
	a.RecordTurn(record("s1", 0, domain.RoleUser, "hello"))
	a.RecordTurn(record("s1", 1, domain.RoleAssistant, "hi there"))
	a.Close()
	a.RecordTurn(record("s1", 2, domain.RoleUser, "after close"))

	turns, err := s.ListTurns(context.Background(), "client-1", "s1")
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 2 || turns[0].Turn.Content != "hello" || turns[1].Turn.Content != "hi there" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

// slowRepo blocks every AppendTurn until release is closed.
type slowRepo struct {
	Repository
	release  chan struct{}
	appended atomic.Int32
}

func (r *slowRepo) AppendTurn(ctx context.Context, _ domain.TurnRecord) error {
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.appended.Add(1)
	return nil
}

type openerFunc func(ctx context.Context, req backend.ChatRequest) (*backend.ChatStream, error)

func (f openerFunc) OpenChat(ctx context.Context, req backend.ChatRequest) (*backend.ChatStream, error) {
	return f(ctx, req)
}

func TestSlowArchiveDoesNotDelayChat(t *testing.T) {
	t.Parallel()

	repo := &slowRepo{release: make(chan struct{})}
	a := NewArchiver(repo, nil)

	opened := make(chan struct{})
	api := openerFunc(func(context.Context, backend.ChatRequest) (*backend.ChatStream, error) {
		close(opened)
		return backend.NewChatStream(io.NopCloser(strings.NewReader("reply")), "req-1"), nil
	})
	session := chat.NewSession(api, chat.WithRecorder(a), chat.WithIdentity("client-1", "s1"))

	done := make(chan error, 1)
	go func() { done <- session.Send(context.Background(), "hello", false, "") }()

	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("chat request held up by archive writes")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send held up by archive writes")
	}
	if n := repo.appended.Load(); n != 0 {
		t.Fatalf("appended = %d before release, want 0", n)
	}

	close(repo.release)
	a.Close()
	if n := repo.appended.Load(); n != 2 {
		t.Fatalf("appended = %d after close, want 2", n)
	}
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	busy := errors.New("database is locked (5) (SQLITE_BUSY)")

	calls := 0
	err := withRetry(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 2 {
			return busy
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err = %v calls = %d, want success on second attempt", err, calls)
	}

	calls = 0
	err = withRetry(context.Background(), "op", func(context.Context) error {
		calls++
		return busy
	})
	if !errors.Is(err, busy) || calls != maxRetries {
		t.Fatalf("err = %v calls = %d", err, calls)
	}

	calls = 0
	plain := errors.New("constraint failed")
	err = withRetry(context.Background(), "op", func(context.Context) error {
		calls++
		return plain
	})
	if !errors.Is(err, plain) || calls != 1 {
		t.Fatalf("non-conflict error retried: err = %v calls = %d", err, calls)
	}
}

func TestIsConflictError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := IsConflictError(tt.err); got != tt.want {
			t.Errorf("IsConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
