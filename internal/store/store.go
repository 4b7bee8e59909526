// Package store archives finished chat turns.
package store

import (
	"context"
	"time"

	"github.com/ashureev/conceptlab-chat/internal/domain"
)

// Repository persists chat turns per client and page session.
type Repository interface {
	// AppendTurn stores a turn record. Recording the same turn id again
	// replaces the stored content and stream metadata.
	AppendTurn(ctx context.Context, rec domain.TurnRecord) error

	// ListTurns returns a session's turns in the order they were recorded.
	ListTurns(ctx context.Context, clientID, sessionID string) ([]domain.TurnRecord, error)

	// DeleteSession removes every turn of a session.
	DeleteSession(ctx context.Context, clientID, sessionID string) (int64, error)

	// DeleteOlderThan removes turns recorded before now minus age.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
