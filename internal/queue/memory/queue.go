// Package memory provides a queue implementation with real visibility-timeout
// semantics for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/browser-runner/internal/queue"
)

type message struct {
	id        string
	body      []byte
	visibleAt time.Time
	receives  int
}

// Queue is an in-memory competing-consumers queue. Received messages become
// invisible for the configured visibility timeout and reappear unless
// deleted; after maxReceives deliveries they move to the dead-letter slice.
type Queue struct {
	mu         sync.Mutex
	messages   []*message
	inflight   map[string]*message // receipt -> message
	dead       []*message
	visibility time.Duration
	maxReceive int
	notify     chan struct{}
}

// NewQueue constructs a Queue. maxReceive <= 0 disables dead-lettering.
func NewQueue(visibility time.Duration, maxReceive int) *Queue {
	return &Queue{
		inflight:   make(map[string]*message),
		visibility: visibility,
		maxReceive: maxReceive,
		notify:     make(chan struct{}, 1),
	}
}

// Publish enqueues a message body.
func (q *Queue) Publish(_ context.Context, body []byte) (string, error) {
	q.mu.Lock()
	id := uuid.NewString()
	q.messages = append(q.messages, &message{
		id:   id,
		body: append([]byte(nil), body...),
	})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return id, nil
}

// Receive returns up to max visible messages, blocking up to wait for the
// first one. Each returned message is hidden for the visibility timeout.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Delivery, error) {
	deadline := time.Now().Add(wait)
	for {
		if deliveries := q.takeVisible(max); len(deliveries) > 0 {
			return deliveries, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		// Re-check periodically so expired visibility windows are noticed.
		poll := remaining
		if poll > 50*time.Millisecond {
			poll = 50 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-time.After(poll):
		}
	}
}

func (q *Queue) takeVisible(max int) []queue.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeueExpiredLocked()

	now := time.Now()
	var deliveries []queue.Delivery
	remaining := q.messages[:0]
	for _, m := range q.messages {
		if len(deliveries) >= max || m.visibleAt.After(now) {
			remaining = append(remaining, m)
			continue
		}
		m.receives++
		m.visibleAt = now.Add(q.visibility)
		receipt := uuid.NewString()
		q.inflight[receipt] = m
		deliveries = append(deliveries, queue.Delivery{
			MessageID: m.id,
			Receipt:   receipt,
			Body:      append([]byte(nil), m.body...),
		})
	}
	q.messages = remaining
	return deliveries
}

// requeueExpiredLocked returns timed-out inflight messages to the queue, or
// dead-letters them once the receive count is exhausted.
func (q *Queue) requeueExpiredLocked() {
	now := time.Now()
	for receipt, m := range q.inflight {
		if m.visibleAt.After(now) {
			continue
		}
		delete(q.inflight, receipt)
		if q.maxReceive > 0 && m.receives >= q.maxReceive {
			q.dead = append(q.dead, m)
			continue
		}
		q.messages = append(q.messages, m)
	}
}

// Delete acknowledges a delivery.
func (q *Queue) Delete(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[receipt]; !ok {
		return fmt.Errorf("unknown receipt %q", receipt)
	}
	delete(q.inflight, receipt)
	return nil
}

// ExtendVisibility pushes a delivery's reappearance out by d from now.
func (q *Queue) ExtendVisibility(_ context.Context, receipt string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.inflight[receipt]
	if !ok {
		return fmt.Errorf("unknown receipt %q", receipt)
	}
	m.visibleAt = time.Now().Add(d)
	return nil
}

// Close releases nothing; provided to satisfy the Provider interface.
func (q *Queue) Close() error { return nil }

// Depth reports visible plus inflight message counts, for tests and status.
func (q *Queue) Depth() (visible, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked()
	return len(q.messages), len(q.inflight)
}

// DeadLettered reports how many messages exhausted their receive budget.
func (q *Queue) DeadLettered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked()
	return len(q.dead)
}
