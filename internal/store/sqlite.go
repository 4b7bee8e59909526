package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the bridge read archives while sessions append.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		turn_id TEXT NOT NULL UNIQUE,
		client_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		rag_mode INTEGER NOT NULL DEFAULT 0,
		index_name TEXT NOT NULL DEFAULT '',
		request_id TEXT NOT NULL DEFAULT '',
		stream_chunks INTEGER NOT NULL DEFAULT 0,
		partial INTEGER NOT NULL DEFAULT 0,
		stream_error TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_session ON chat_turns(client_id, session_id, id);
	CREATE INDEX IF NOT EXISTS idx_chat_turns_recorded ON chat_turns(recorded_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendTurn stores a turn record.
func (s *SQLiteStore) AppendTurn(ctx context.Context, rec domain.TurnRecord) error {
	query := `
	INSERT INTO chat_turns (
		turn_id, client_id, session_id, seq, role, content,
		rag_mode, index_name, request_id, stream_chunks, partial, stream_error, recorded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(turn_id) DO UPDATE SET
		content = excluded.content,
		request_id = excluded.request_id,
		stream_chunks = excluded.stream_chunks,
		partial = excluded.partial,
		stream_error = excluded.stream_error,
		recorded_at = excluded.recorded_at`

	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.Turn.ID, rec.ClientID, rec.SessionID, rec.Seq,
		string(rec.Turn.Role), rec.Turn.Content,
		rec.RAGMode, rec.IndexName, rec.RequestID,
		rec.StreamChunks, rec.Partial, rec.StreamError,
		recordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// ListTurns returns a session's turns in recording order.
func (s *SQLiteStore) ListTurns(ctx context.Context, clientID, sessionID string) ([]domain.TurnRecord, error) {
	query := `
		SELECT turn_id, seq, role, content, rag_mode, index_name,
		       request_id, stream_chunks, partial, stream_error, recorded_at
		FROM chat_turns WHERE client_id = ? AND session_id = ?
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, clientID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	turns := []domain.TurnRecord{}
	for rows.Next() {
		rec := domain.TurnRecord{ClientID: clientID, SessionID: sessionID}
		var role string
		var recordedAt int64

		if err := rows.Scan(
			&rec.Turn.ID, &rec.Seq, &role, &rec.Turn.Content,
			&rec.RAGMode, &rec.IndexName, &rec.RequestID,
			&rec.StreamChunks, &rec.Partial, &rec.StreamError, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		rec.Turn.Role = domain.Role(role)
		rec.RecordedAt = time.UnixMilli(recordedAt).UTC()
		turns = append(turns, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// DeleteSession removes every turn of a session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, clientID, sessionID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_turns WHERE client_id = ? AND session_id = ?`, clientID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session turns: %w", err)
	}
	return result.RowsAffected()
}

// DeleteOlderThan removes turns recorded before now minus age.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	threshold := time.Now().Add(-age).UnixMilli()
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_turns WHERE recorded_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete expired turns: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
