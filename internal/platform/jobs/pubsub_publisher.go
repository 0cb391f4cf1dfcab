package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/farmstall/api/internal/platform/textutil"
	"github.com/farmstall/api/internal/services"
)

// EventOrderPlaced is the eventType attribute carried by order placement messages.
const EventOrderPlaced = "order.placed"

// OrderPlacedMessage is the JSON payload published for every placed order.
type OrderPlacedMessage struct {
	EventType string         `json:"eventType"`
	Order     services.Order `json:"order"`
	ItemCount int            `json:"itemCount"`
	EmittedAt time.Time      `json:"emittedAt"`
}

// PubSubOrderPublisher publishes order events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	now     func() time.Time
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
		now:     time.Now,
	}, nil
}

// PublishOrderPlaced sends the order.placed event and waits for the server acknowledgement.
func (p *PubSubOrderPublisher) PublishOrderPlaced(ctx context.Context, order services.Order) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}

	count := 0
	for _, item := range order.Items {
		count += item.EffectiveQuantity()
	}
	data, err := p.marshal(OrderPlacedMessage{
		EventType: EventOrderPlaced,
		Order:     order,
		ItemCount: count,
		EmittedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := textutil.NormalizeStringMap(map[string]string{
		"eventType": EventOrderPlaced,
		"orderId":   order.ID,
		"userEmail": order.UserEmail,
	})

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.ToLower(strings.TrimSpace(order.UserEmail))
	}
	result := p.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}
