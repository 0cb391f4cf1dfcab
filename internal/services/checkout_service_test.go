package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/kv"
)

func TestOrderFactory_CheckoutWritesOrderAndClearsCart(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	user := sf.login(t, domain.RoleConsumer)
	_ = sf.cart.AddItem(ctx, product("Potato", 100))
	_, _ = sf.cart.UpdateQuantity(ctx, 0, 9)

	priced := NewPricingEngine(PricingPolicy{}).CalculateTotals(sf.cart.GetCart(ctx), user.Role)
	order, err := sf.factory.Checkout(ctx, &user, priced.Items, priced.Totals)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if order.ID != "ord_T001" {
		t.Fatalf("unexpected order id %q", order.ID)
	}
	if order.UserEmail != user.Email || order.Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected order header %#v", order)
	}
	if !order.Date.Equal(time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected order date %s", order.Date)
	}
	if !order.Total.Equal(decimal.NewFromInt(1058)) {
		t.Fatalf("unexpected total %s", order.Total)
	}
	if len(order.Items) != 1 || !order.Items[0].HasBulkDiscount || order.Items[0].Quantity != 10 {
		t.Fatalf("unexpected order items %#v", order.Items)
	}

	if cart := sf.cart.GetCart(ctx); len(cart) != 0 {
		t.Fatalf("expected cart cleared, got %#v", cart)
	}
	if stored := sf.orders(t); len(stored) != 1 || stored[0].ID != order.ID {
		t.Fatalf("expected exactly one stored order, got %#v", stored)
	}
	if count, _ := sf.collector.CartCount(); count.Count != 0 || count.Visible {
		t.Fatalf("expected hidden badge after checkout, got %#v", count)
	}
}

func TestOrderFactory_DateSerialisesAsISO8601(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	user := sf.login(t, domain.RoleConsumer)
	_ = sf.cart.AddItem(ctx, product("Garlic", 5))

	if _, err := sf.factory.Checkout(ctx, &user, sf.cart.GetCart(ctx), Totals{Total: decimal.NewFromInt(60)}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if raw := sf.shared.raw(t, kv.KeyOrders); !strings.Contains(raw, `"date":"2024-05-02T10:30:00Z"`) {
		t.Fatalf("expected ISO date in stored order, got %s", raw)
	}
}

func TestOrderFactory_OrderIsIndependentOfLaterCartChanges(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	user := sf.login(t, domain.RoleConsumer)
	_ = sf.cart.AddItem(ctx, product("Apple", 15))

	items := sf.cart.GetCart(ctx)
	order, err := sf.factory.Checkout(ctx, &user, items, Totals{Total: decimal.NewFromInt(66)})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	items[0].Quantity = 50
	items[0].Name = "Changed"
	_ = sf.cart.AddItem(ctx, product("Apple", 15))
	_, _ = sf.cart.UpdateQuantity(ctx, 0, 20)

	if order.Items[0].Quantity != 1 || order.Items[0].Name != "Apple" {
		t.Fatalf("returned order shares state with the caller's cart: %#v", order.Items)
	}
	stored := sf.orders(t)
	if stored[0].Items[0].Quantity != 1 || !stored[0].Total.Equal(decimal.NewFromInt(66)) {
		t.Fatalf("stored order changed: %#v", stored[0])
	}
}

func TestOrderFactory_GuardsLeaveStateUnchanged(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	_ = sf.cart.AddItem(ctx, product("Orange", 18))
	cartBefore := sf.device.raw(t, kv.KeyCart)

	_, err := sf.factory.Checkout(ctx, nil, sf.cart.GetCart(ctx), Totals{Total: decimal.NewFromInt(70)})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if sf.device.raw(t, kv.KeyCart) != cartBefore || sf.shared.raw(t, kv.KeyOrders) != "" {
		t.Fatalf("unauthenticated checkout mutated state")
	}

	user := SessionUser{ID: "u1", Email: "shopper@example.com", Role: domain.RoleConsumer}
	_, err = sf.factory.Checkout(ctx, &user, nil, Totals{})
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if sf.shared.writeCount(kv.KeyOrders) != 0 || sf.device.raw(t, kv.KeyCart) != cartBefore {
		t.Fatalf("empty checkout mutated state")
	}
}

func TestOrderFactory_AppendsToExistingOrders(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	user := sf.login(t, domain.RoleConsumer)

	for i := 0; i < 3; i++ {
		_ = sf.cart.AddItem(ctx, product("Cucumber", 7))
		if _, err := sf.factory.Checkout(ctx, &user, sf.cart.GetCart(ctx), Totals{Total: decimal.NewFromInt(57)}); err != nil {
			t.Fatalf("Checkout %d: %v", i, err)
		}
	}
	stored := sf.orders(t)
	if len(stored) != 3 || stored[0].ID == stored[2].ID {
		t.Fatalf("expected three distinct orders, got %#v", stored)
	}
}

func TestOrderFactory_OrderWriteFailureKeepsCart(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	user := sf.login(t, domain.RoleConsumer)
	_ = sf.cart.AddItem(ctx, product("Tomato", 12))
	sf.shared.failWrite[kv.KeyOrders] = true

	if _, err := sf.factory.Checkout(ctx, &user, sf.cart.GetCart(ctx), Totals{}); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	if cart := sf.cart.GetCart(ctx); len(cart) != 1 {
		t.Fatalf("cart must survive a failed order write, got %#v", cart)
	}
}

func TestCheckoutOrchestrator_PlaceOrder(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	user := sf.login(t, domain.RoleBusiness)
	_ = sf.cart.AddItem(ctx, product("Strawberry", 200))

	order, err := sf.checkout.PlaceOrder(ctx)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !order.Total.Equal(decimal.RequireFromString("262.8")) {
		t.Fatalf("expected business total 262.8, got %s", order.Total)
	}
	if order.UserEmail != user.Email {
		t.Fatalf("unexpected email %q", order.UserEmail)
	}

	messages := sf.collector.Messages()
	if last := messages[len(messages)-1]; last != "Order #"+order.ID+" placed successfully!" {
		t.Fatalf("unexpected final notification %q", last)
	}
	if len(sf.events.orders) != 1 || sf.events.orders[0].ID != order.ID {
		t.Fatalf("expected order event, got %#v", sf.events.orders)
	}
	if len(sf.mailer.sent) != 1 || sf.mailer.sent[0] != user.Email+":"+order.ID {
		t.Fatalf("expected confirmation mail, got %#v", sf.mailer.sent)
	}
	if len(sf.orders(t)) != 1 || len(sf.cart.GetCart(ctx)) != 0 {
		t.Fatalf("expected one order and an empty cart")
	}
}

func TestCheckoutOrchestrator_RequiresLogin(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	_ = sf.cart.AddItem(ctx, product("Garlic", 5))

	if _, err := sf.checkout.PlaceOrder(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	messages := sf.collector.Messages()
	if messages[len(messages)-1] != "Please login to checkout" {
		t.Fatalf("unexpected notifications %#v", messages)
	}
	if len(sf.cart.GetCart(ctx)) != 1 || sf.shared.raw(t, kv.KeyOrders) != "" {
		t.Fatalf("unauthenticated checkout mutated state")
	}
}

func TestCheckoutOrchestrator_EmptyCartIsSilent(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	sf.login(t, domain.RoleConsumer)
	before := len(sf.collector.Messages())

	if _, err := sf.checkout.PlaceOrder(ctx); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if len(sf.collector.Messages()) != before {
		t.Fatalf("empty checkout raised a notification")
	}
	if len(sf.events.orders) != 0 || len(sf.mailer.sent) != 0 {
		t.Fatalf("empty checkout announced an order")
	}
}

func TestCheckoutOrchestrator_AnnouncementFailuresDoNotFailCheckout(t *testing.T) {
	ctx := context.Background()
	sf := newStorefront(t)
	sf.login(t, domain.RoleConsumer)
	sf.events.err = errors.New("topic missing")
	sf.mailer.err = errors.New("mail rejected")
	_ = sf.cart.AddItem(ctx, product("Lettuce", 7))

	if _, err := sf.checkout.PlaceOrder(ctx); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if len(sf.orders(t)) != 1 {
		t.Fatalf("expected order to be stored")
	}
}
