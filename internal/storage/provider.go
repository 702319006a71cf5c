// Package storage defines the interfaces for a blob storage provider with a
// public-URL scheme. The abstraction keeps artifact persistence independent
// of a specific backend (Google Cloud Storage, in-memory, or none).
package storage

import (
	"context"
)

// Provider defines the common interface for an artifact store.
type Provider interface {
	// Put uploads data under key with the given content type and returns the
	// public URL for the stored object. Re-putting the same key overwrites,
	// which keeps redelivered messages idempotent.
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// NoOpProvider discards artifacts. Useful for dry runs where media output is
// not wanted.
type NoOpProvider struct{}

// Put for NoOpProvider drops the data and returns a placeholder URL.
func (n *NoOpProvider) Put(_ context.Context, key string, _ string, _ []byte) (string, error) {
	return "noop://" + key, nil
}
