// Package jobs delivers order domain events to asynchronous consumers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orders/internal/services"
)

// orderEventMessage is the wire payload shared by every publisher.
type orderEventMessage struct {
	Type       string         `json:"type"`
	OrderID    string         `json:"orderId"`
	Kind       string         `json:"kind"`
	Ref        int64          `json:"ref,omitempty"`
	FullRef    string         `json:"fullRef,omitempty"`
	Total      string         `json:"total"`
	OccurredAt time.Time      `json:"occurredAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func newOrderEventMessage(event services.OrderEvent) orderEventMessage {
	return orderEventMessage{
		Type:       event.Type,
		OrderID:    event.OrderID,
		Kind:       string(event.Kind),
		Ref:        event.Ref,
		FullRef:    event.FullRef,
		Total:      event.Total,
		OccurredAt: event.OccurredAt.UTC(),
		Metadata:   event.Metadata,
	}
}

// PubSubOrderPublisher publishes order events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderPublisher)(nil)

// NewPubSubOrderPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent sends the event and waits for the server acknowledgement.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(newOrderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "kind", string(event.Kind))
	if event.Ref != 0 {
		attrs["ref"] = strconv.FormatInt(event.Ref, 10)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: p.orderingKey(event),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func (p *PubSubOrderPublisher) orderingKey(event services.OrderEvent) string {
	if !p.topic.EnableMessageOrdering {
		return ""
	}
	return event.OrderID
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
