package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionInterval = 10 * time.Minute

// StartRetentionWorker runs a background goroutine that periodically deletes
// turns older than maxAge. It stops when ctx is done.
func StartRetentionWorker(ctx context.Context, repo Repository, maxAge time.Duration) {
	ticker := time.NewTicker(retentionInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Archive retention worker started", "interval", retentionInterval, "max_age", maxAge)

		for {
			select {
			case <-ticker.C:
				sweepExpiredTurns(ctx, repo, maxAge)
			case <-ctx.Done():
				slog.Info("Archive retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpiredTurns(ctx context.Context, repo Repository, maxAge time.Duration) {
	var deleted int64
	err := withRetry(ctx, "delete expired turns", func(ctx context.Context) error {
		n, err := repo.DeleteOlderThan(ctx, maxAge)
		deleted = n
		return err
	})
	if err != nil {
		slog.Error("Archive retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Archive retention removed expired turns", "count", deleted)
	}
}
