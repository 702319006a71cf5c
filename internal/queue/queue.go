// Package queue defines the interfaces for a competing-consumers message
// queue with visibility-timeout semantics. The abstraction keeps the
// processor independent of a specific broker (GCP Pub/Sub, NATS JetStream,
// or the in-memory queue used for development).
package queue

import (
	"context"
	"time"
)

// Delivery is one received-but-unacknowledged message. The receipt is the
// opaque token required to delete the message or extend its visibility; it is
// valid only for this delivery.
type Delivery struct {
	MessageID string
	Receipt   string
	Body      []byte
}

// Provider defines the common interface for a message queue.
type Provider interface {
	// Receive fetches up to max messages, long-polling up to wait when the
	// queue is empty. Returning zero deliveries is not an error.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)

	// Delete acknowledges a delivery so the message is never redelivered.
	Delete(ctx context.Context, receipt string) error

	// ExtendVisibility keeps a delivery hidden from other consumers for d
	// beyond now, covering long-running executions.
	ExtendVisibility(ctx context.Context, receipt string, d time.Duration) error

	// Publish enqueues a new message and returns its ID. Used by the
	// operator test surface.
	Publish(ctx context.Context, body []byte) (string, error)

	// Close cleans up client connections and resources.
	Close() error
}

// NoOpProvider is a queue provider that never yields messages. Useful for
// running the service without a broker.
type NoOpProvider struct{}

// Receive for NoOpProvider waits out the poll interval and returns nothing.
func (n *NoOpProvider) Receive(ctx context.Context, _ int, wait time.Duration) ([]Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, nil
	}
}

// Delete for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) Delete(context.Context, string) error { return nil }

// ExtendVisibility for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) ExtendVisibility(context.Context, string, time.Duration) error { return nil }

// Publish for NoOpProvider drops the message.
func (n *NoOpProvider) Publish(context.Context, []byte) (string, error) { return "noop", nil }

// Close for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) Close() error { return nil }
