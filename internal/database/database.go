// Package database defines the interfaces for persisting attempt metadata.
// By using an interface, we decouple the application from a specific database
// implementation, allowing for easier testing and flexibility in the future.
package database

import (
	"context"
	"time"
)

// Attempt holds per-attempt metadata for operator correlation. Execution
// results themselves are never stored, only how the attempt went.
type Attempt struct {
	ID        string        `db:"id"`
	MessageID string        `db:"message_id"`
	ProjectID string        `db:"project_id"`
	FlowID    string        `db:"flow_id"`
	Type      string        `db:"task_type"`
	Status    string        `db:"status"`
	Duration  time.Duration `db:"duration"`
	Error     string        `db:"error"`
	CreatedAt time.Time     `db:"created_at"`
}

// Provider defines the common interface for the attempt log. This allows a
// real Postgres database in production and a noop or mock in tests and local
// development.
type Provider interface {
	// RecordAttempt inserts one attempt row and returns its ID.
	RecordAttempt(ctx context.Context, attempt Attempt) (string, error)

	// ListRecent returns the newest attempts up to limit, newest first.
	ListRecent(ctx context.Context, limit int) ([]Attempt, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close terminates the database connection and releases any resources.
	Close() error
}

// NoOpProvider is an attempt log that performs no operations. It is useful
// for running without a database connection.
type NoOpProvider struct{}

// RecordAttempt for NoOpProvider does nothing and returns a dummy ID.
func (n *NoOpProvider) RecordAttempt(_ context.Context, _ Attempt) (string, error) {
	return "noop-attempt-id", nil
}

// ListRecent for NoOpProvider returns no rows.
func (n *NoOpProvider) ListRecent(_ context.Context, _ int) ([]Attempt, error) {
	return nil, nil
}

// Ping for NoOpProvider always succeeds.
func (n *NoOpProvider) Ping(_ context.Context) error { return nil }

// Close for NoOpProvider does nothing and returns no error.
func (n *NoOpProvider) Close() error { return nil }
