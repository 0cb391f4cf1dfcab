package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/services"
)

func TestPubSubOrderPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "orders")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	publisher, err := NewPubSubOrderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}
	publisher.now = func() time.Time { return time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC) }

	order := services.Order{
		ID:        "ord_01HX",
		UserEmail: "buyer@example.com",
		Date:      time.Date(2025, 5, 6, 8, 59, 0, 0, time.UTC),
		Items: []domain.CartLineItem{
			{Name: "Potato", Price: decimal.NewFromInt(100), Quantity: 10, HasBulkDiscount: true},
			{Name: "Garlic", Price: decimal.NewFromInt(5), Quantity: 2},
		},
		Total:  decimal.RequireFromString("1069.2"),
		Status: domain.OrderStatusProcessing,
	}

	if err := publisher.PublishOrderPlaced(ctx, order); err != nil {
		t.Fatalf("PublishOrderPlaced: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload OrderPlacedMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.EventType != EventOrderPlaced || payload.Order.ID != order.ID || payload.ItemCount != 12 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.Order.Total.Equal(order.Total) || !payload.Order.Items[0].HasBulkDiscount {
		t.Fatalf("order snapshot not preserved: %#v", payload.Order)
	}
	attrs := messages[0].Attributes
	if attrs["orderId"] != order.ID || attrs["userEmail"] != order.UserEmail || attrs["eventType"] != EventOrderPlaced {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
}

func TestNewPubSubOrderPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
