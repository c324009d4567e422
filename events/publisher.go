package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
)

// Publisher sends run events to a watermill topic as JSON
type Publisher struct {
	publisher message.Publisher
	topic     string
}

// NewPublisher wraps a watermill publisher
func NewPublisher(pub message.Publisher, topic string) *Publisher {
	return &Publisher{publisher: pub, topic: topic}
}

// Publish encodes and sends event
func (p *Publisher) Publish(ctx context.Context, event RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode run event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataRunID, event.RunID)
	msg.Metadata.Set(MetadataType, event.Type)
	msg.SetContext(ctx)

	return p.publisher.Publish(p.topic, msg)
}

// Close closes the underlying publisher
func (p *Publisher) Close() error {
	return p.publisher.Close()
}

// Subscribe decodes run events from topic until ctx is done. Messages that
// are not run events are acked and skipped.
func Subscribe(ctx context.Context, sub message.Subscriber, topic string, logger zerolog.Logger) (<-chan RunEvent, error) {
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan RunEvent)
	go func() {
		defer close(out)
		for msg := range messages {
			var event RunEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Skipping undecodable run event")
				msg.Ack()
				continue
			}

			select {
			case out <- event:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}
