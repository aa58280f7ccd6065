// Package storage persists calendar events. Postgres (pgx) and embedded SQLite
// (modernc.org/sqlite) implement the same Repository.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/calsync/project/internal/contracts"
	"github.com/calsync/project/internal/platform/logging"
)

var ErrEventNotFound = errors.New("event not found")

type Repository interface {
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Create(ctx context.Context, ev contracts.Event) error
	// Update replaces every mutable field of the stored event with ev's.
	Update(ctx context.Context, ev contracts.Event) error
	// Delete removes the event and returns what was stored.
	Delete(ctx context.Context, id string) (contracts.Event, error)
	Get(ctx context.Context, id string) (contracts.Event, error)
	// ListRange returns events with start <= date <= end ordered by date then time.
	ListRange(ctx context.Context, start, end string) ([]contracts.Event, error)
	ListAll(ctx context.Context) ([]contracts.Event, error)
	Close()
}

// Open picks Postgres when databaseURL is a postgres URL and the SQLite file at
// sqlitePath otherwise.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Repository, error) {
	url := strings.TrimSpace(databaseURL)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		repo, err := NewPostgresRepository(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return repo, nil
	}
	repo, err := OpenSQLite(ctx, sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", sqlitePath, err)
	}
	return repo, nil
}

// WaitReady pings the repository and ensures its schema, retrying until timeout.
func WaitReady(ctx context.Context, repo Repository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = repo.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = repo.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		logging.Info("waiting for storage readiness", "err", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return lastErr
}
