package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NATSProvider implements Provider on a JetStream pull consumer. AckWait is
// the visibility timeout, InProgress extends it, and the consumer's
// MaxDeliver setting bounds redelivery.
type NATSProvider struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	ackWait time.Duration

	mu      sync.Mutex
	pending map[string]pendingMsg
}

// pendingMsg pairs a fetched message with the moment its ack window lapses.
// Once the window lapses JetStream redelivers under a fresh receipt, so the
// stale entry only holds memory and must be swept.
type pendingMsg struct {
	msg     *nats.Msg
	expires time.Time
}

// NATSConfig holds connection and consumer settings.
type NATSConfig struct {
	URL     string
	Subject string
	Durable string
	AckWait time.Duration
}

// NewNATSProvider connects and binds the durable pull consumer.
func NewNATSProvider(cfg NATSConfig) (*NATSProvider, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("browser-runner"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = 6 * time.Minute
	}
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, nats.AckWait(ackWait), nats.AckExplicit())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("pull subscribe %q: %w", cfg.Subject, err)
	}

	return &NATSProvider{
		conn:    conn,
		sub:     sub,
		subject: cfg.Subject,
		ackWait: ackWait,
		pending: make(map[string]pendingMsg),
	}, nil
}

// Receive fetches a batch, waiting up to wait for the first message.
func (p *NATSProvider) Receive(_ context.Context, max int, wait time.Duration) ([]Delivery, error) {
	msgs, err := p.sub.Fetch(max, nats.MaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, nil
		}
		return nil, fmt.Errorf("jetstream fetch: %w", err)
	}

	deliveries := make([]Delivery, 0, len(msgs))
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepExpiredLocked(now)
	for _, msg := range msgs {
		receipt := uuid.NewString()
		p.pending[receipt] = pendingMsg{msg: msg, expires: now.Add(p.ackWait)}
		meta, metaErr := msg.Metadata()
		id := receipt
		if metaErr == nil {
			id = fmt.Sprintf("%s-%d", meta.Stream, meta.Sequence.Stream)
		}
		deliveries = append(deliveries, Delivery{
			MessageID: id,
			Receipt:   receipt,
			Body:      msg.Data,
		})
	}
	return deliveries, nil
}

// sweepExpiredLocked drops receipts whose ack window has lapsed. Messages left
// unacked on purpose (failed attempts, pool saturation) are redelivered by
// JetStream under new receipts, so the old entries would otherwise accumulate
// forever.
func (p *NATSProvider) sweepExpiredLocked(now time.Time) {
	for receipt, pm := range p.pending {
		if !pm.expires.After(now) {
			delete(p.pending, receipt)
		}
	}
}

// Delete acks the message and forgets the receipt.
func (p *NATSProvider) Delete(_ context.Context, receipt string) error {
	pm, err := p.take(receipt)
	if err != nil {
		return err
	}
	if err := pm.msg.AckSync(); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// ExtendVisibility resets the ack wait window for the delivery. JetStream's
// InProgress restarts the full AckWait rather than taking a duration, so d is
// advisory here.
func (p *NATSProvider) ExtendVisibility(_ context.Context, receipt string, _ time.Duration) error {
	p.mu.Lock()
	pm, ok := p.pending[receipt]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown receipt %q", receipt)
	}
	if err := pm.msg.InProgress(); err != nil {
		return fmt.Errorf("extend ack wait: %w", err)
	}
	p.mu.Lock()
	if cur, ok := p.pending[receipt]; ok {
		cur.expires = time.Now().Add(p.ackWait)
		p.pending[receipt] = cur
	}
	p.mu.Unlock()
	return nil
}

// Publish sends a new message on the consumer's subject.
func (p *NATSProvider) Publish(_ context.Context, body []byte) (string, error) {
	js, err := p.conn.JetStream()
	if err != nil {
		return "", fmt.Errorf("jetstream context: %w", err)
	}
	ack, err := js.Publish(p.subject, body)
	if err != nil {
		return "", fmt.Errorf("jetstream publish: %w", err)
	}
	return fmt.Sprintf("%s-%d", ack.Stream, ack.Sequence), nil
}

// Close drains the subscription and closes the connection.
func (p *NATSProvider) Close() error {
	if err := p.sub.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain subscription: %w", err)
	}
	p.conn.Close()
	return nil
}

func (p *NATSProvider) take(receipt string) (pendingMsg, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pm, ok := p.pending[receipt]
	if !ok {
		return pendingMsg{}, fmt.Errorf("unknown receipt %q", receipt)
	}
	delete(p.pending, receipt)
	return pm, nil
}
