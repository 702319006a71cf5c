package queue

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"go.uber.org/zap"
)

// PubSubProvider implements Provider against Google Cloud Pub/Sub using the
// synchronous pull API. Ack deadlines play the role of the visibility
// timeout: a pulled-but-unacknowledged message becomes redeliverable once its
// deadline lapses, and the subscription's dead-letter policy bounds total
// delivery attempts.
type PubSubProvider struct {
	subscriber   *pubsub.SubscriberClient
	publisher    *pubsub.PublisherClient
	subscription string
	topic        string
	logger       *zap.Logger
}

// NewPubSubProvider creates pull and publish clients for the given project.
// Authentication uses Application Default Credentials. It fails fast when the
// subscription does not exist.
func NewPubSubProvider(ctx context.Context, projectID, subscriptionID, topicID string, logger *zap.Logger) (*PubSubProvider, error) {
	sub, err := pubsub.NewSubscriberClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create pubsub subscriber: %w", err)
	}

	subscription := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscriptionID)
	if _, err := sub.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: subscription}); err != nil {
		if closeErr := sub.Close(); closeErr != nil {
			logger.Warn("close subscriber after lookup failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get pubsub subscription %q: %w", subscriptionID, err)
	}

	pub, err := pubsub.NewPublisherClient(ctx)
	if err != nil {
		if closeErr := sub.Close(); closeErr != nil {
			logger.Warn("close subscriber after publisher failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("create pubsub publisher: %w", err)
	}

	return &PubSubProvider{
		subscriber:   sub,
		publisher:    pub,
		subscription: subscription,
		topic:        fmt.Sprintf("projects/%s/topics/%s", projectID, topicID),
		logger:       logger,
	}, nil
}

// Receive pulls up to max messages. The pull RPC itself blocks while the
// subscription is empty, so wait only bounds that server-side hold.
func (p *PubSubProvider) Receive(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	pullCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	resp, err := p.subscriber.Pull(pullCtx, &pubsubpb.PullRequest{
		Subscription: p.subscription,
		MaxMessages:  int32(max),
	})
	if err != nil {
		if ctx.Err() != nil || pullCtx.Err() != nil {
			// An empty long poll is not an error.
			return nil, nil
		}
		return nil, fmt.Errorf("pubsub pull: %w", err)
	}

	deliveries := make([]Delivery, 0, len(resp.ReceivedMessages))
	for _, rm := range resp.ReceivedMessages {
		if rm.Message == nil {
			continue
		}
		deliveries = append(deliveries, Delivery{
			MessageID: rm.Message.MessageId,
			Receipt:   rm.AckId,
			Body:      rm.Message.Data,
		})
	}
	return deliveries, nil
}

// Delete acknowledges the message so Pub/Sub stops redelivering it.
func (p *PubSubProvider) Delete(ctx context.Context, receipt string) error {
	err := p.subscriber.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: p.subscription,
		AckIds:       []string{receipt},
	})
	if err != nil {
		return fmt.Errorf("pubsub acknowledge: %w", err)
	}
	return nil
}

// ExtendVisibility pushes the ack deadline out by d.
func (p *PubSubProvider) ExtendVisibility(ctx context.Context, receipt string, d time.Duration) error {
	err := p.subscriber.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
		Subscription:       p.subscription,
		AckIds:             []string{receipt},
		AckDeadlineSeconds: int32(d / time.Second),
	})
	if err != nil {
		return fmt.Errorf("pubsub modify ack deadline: %w", err)
	}
	return nil
}

// Publish sends a message to the paired topic.
func (p *PubSubProvider) Publish(ctx context.Context, body []byte) (string, error) {
	resp, err := p.publisher.Publish(ctx, &pubsubpb.PublishRequest{
		Topic:    p.topic,
		Messages: []*pubsubpb.PubsubMessage{{Data: body}},
	})
	if err != nil {
		return "", fmt.Errorf("pubsub publish: %w", err)
	}
	if len(resp.MessageIds) == 0 {
		return "", fmt.Errorf("pubsub publish: no message id returned")
	}
	return resp.MessageIds[0], nil
}

// Close shuts down both underlying clients.
func (p *PubSubProvider) Close() error {
	if err := p.subscriber.Close(); err != nil {
		if pubErr := p.publisher.Close(); pubErr != nil {
			p.logger.Warn("close publisher after subscriber close failure", zap.Error(pubErr))
		}
		return fmt.Errorf("close pubsub subscriber: %w", err)
	}
	if err := p.publisher.Close(); err != nil {
		return fmt.Errorf("close pubsub publisher: %w", err)
	}
	return nil
}
