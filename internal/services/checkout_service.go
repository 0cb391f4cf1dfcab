package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/kv"
)

const (
	orderIDPrefix     = "ord_"
	instrumentationID = "github.com/farmstall/api/internal/services"
)

var (
	errOrderFactoryStoreRequired = errors.New("order factory: shared store is required")
	errOrderFactoryCartRequired  = errors.New("order factory: cart is required")
	errOrderFactoryClockRequired = errors.New("order factory: clock is required")

	errCheckoutSessionsRequired = errors.New("checkout: session provider is required")
	errCheckoutCartRequired     = errors.New("checkout: cart is required")
	errCheckoutPricingRequired  = errors.New("checkout: pricing engine is required")
	errCheckoutFactoryRequired  = errors.New("checkout: order factory is required")
)

// checkoutCart is the slice of CartStore used while placing an order.
type checkoutCart interface {
	GetCart(ctx context.Context) []CartLineItem
	ClearCart(ctx context.Context) error
	LockKey() string
}

// OrderFactoryDeps wires the order log and the cart it drains.
type OrderFactoryDeps struct {
	// Shared holds the orders slot.
	Shared      kv.Store
	Cart        checkoutCart
	Locker      KeyLocker
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

// OrderFactory snapshots a priced cart into an order and appends it to the order log.
type OrderFactory struct {
	shared kv.Store
	cart   checkoutCart
	locker KeyLocker
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewOrderFactory constructs an OrderFactory enforcing dependency validation.
func NewOrderFactory(deps OrderFactoryDeps) (*OrderFactory, error) {
	if deps.Shared == nil {
		return nil, errOrderFactoryStoreRequired
	}
	if deps.Cart == nil {
		return nil, errOrderFactoryCartRequired
	}
	if deps.Clock == nil {
		return nil, errOrderFactoryClockRequired
	}
	locker := deps.Locker
	if locker == nil {
		locker = kv.NewLocker()
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderFactory{
		shared: deps.Shared,
		cart:   deps.Cart,
		locker: locker,
		now:    func() time.Time { return deps.Clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// LockKey is the lock name guarding the order log.
func (f *OrderFactory) LockKey() string {
	return kv.ResolveKey(f.shared, kv.KeyOrders)
}

// Checkout records an order for user from cart and totals, then clears the cart.
// A nil user fails with ErrNotAuthenticated and an empty cart with ErrEmptyCart; neither touches storage.
// When the order is written but the cart cannot be cleared the order is returned alongside the error.
func (f *OrderFactory) Checkout(ctx context.Context, user *SessionUser, cart []CartLineItem, totals Totals) (Order, error) {
	if user == nil || user.Email == "" {
		return Order{}, ErrNotAuthenticated
	}
	if len(cart) == 0 {
		return Order{}, ErrEmptyCart
	}

	order := Order{
		ID:        orderIDPrefix + f.newID(),
		UserEmail: user.Email,
		Date:      f.now(),
		Items:     domain.CloneCart(cart),
		Total:     totals.Total,
		Status:    domain.OrderStatusProcessing,
	}

	ctx, unlock := f.locker.Lock(ctx, f.LockKey(), f.cart.LockKey())
	defer unlock()

	orders, err := loadOrders(ctx, f.shared, f.logger)
	if err != nil {
		return Order{}, err
	}
	orders = append(orders, order)
	if err := kv.WriteJSON(ctx, f.shared, kv.KeyOrders, orders); err != nil {
		return Order{}, fmt.Errorf("order factory: persist orders: %w", err)
	}

	if err := f.cart.ClearCart(ctx); err != nil {
		f.logger(ctx, "order.cart_clear_failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		return order, fmt.Errorf("order factory: clear cart: %w", err)
	}
	return order, nil
}

// loadOrders reads the order log. A corrupt log reads as empty.
func loadOrders(ctx context.Context, store kv.Store, logger func(context.Context, string, map[string]any)) ([]Order, error) {
	var orders []Order
	if _, err := kv.ReadJSON(ctx, store, kv.KeyOrders, &orders); err != nil {
		if errors.Is(err, kv.ErrCorrupt) {
			logger(ctx, "orders.corrupt", map[string]any{"error": err.Error()})
			return nil, nil
		}
		return nil, fmt.Errorf("orders: read: %w", err)
	}
	return orders, nil
}

// NewOrdersPlacedCounter registers the orders_placed counter on meter, or on the global provider when meter is nil.
func NewOrdersPlacedCounter(meter metric.Meter) (metric.Int64Counter, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationID)
	}
	return meter.Int64Counter(
		"orders_placed",
		metric.WithDescription("Count of orders placed through checkout"),
	)
}

// CheckoutOrchestratorDeps wires the collaborators of the checkout flow.
type CheckoutOrchestratorDeps struct {
	Sessions CurrentUserProvider
	Cart     checkoutCart
	Pricing  *PricingEngine
	Factory  *OrderFactory
	Locker   KeyLocker
	Notifier Notifier
	Events   OrderEventPublisher
	Mailer   OrderMailer
	// OrdersPlaced is optional; see NewOrdersPlacedCounter.
	OrdersPlaced metric.Int64Counter
	Tracer       trace.Tracer
	Logger       func(context.Context, string, map[string]any)
}

// CheckoutOrchestrator prices the device cart for the logged-in user and places the order.
type CheckoutOrchestrator struct {
	sessions CurrentUserProvider
	cart     checkoutCart
	pricing  *PricingEngine
	factory  *OrderFactory
	locker   KeyLocker
	notifier Notifier
	events   OrderEventPublisher
	mailer   OrderMailer
	placed   metric.Int64Counter
	tracer   trace.Tracer
	logger   func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*CheckoutOrchestrator)(nil)

// NewCheckoutOrchestrator constructs a CheckoutOrchestrator enforcing dependency validation.
func NewCheckoutOrchestrator(deps CheckoutOrchestratorDeps) (*CheckoutOrchestrator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errCheckoutSessionsRequired
	case deps.Cart == nil:
		return nil, errCheckoutCartRequired
	case deps.Pricing == nil:
		return nil, errCheckoutPricingRequired
	case deps.Factory == nil:
		return nil, errCheckoutFactoryRequired
	}
	locker := deps.Locker
	if locker == nil {
		locker = kv.NewLocker()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationID)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CheckoutOrchestrator{
		sessions: deps.Sessions,
		cart:     deps.Cart,
		pricing:  deps.Pricing,
		factory:  deps.Factory,
		locker:   locker,
		notifier: deps.Notifier,
		events:   deps.Events,
		mailer:   deps.Mailer,
		placed:   deps.OrdersPlaced,
		tracer:   tracer,
		logger:   logger,
	}, nil
}

// PlaceOrder checks out the device cart. ErrEmptyCart is returned without side effects so callers can
// treat it as a silent no-op.
func (c *CheckoutOrchestrator) PlaceOrder(ctx context.Context) (Order, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.PlaceOrder")
	defer span.End()

	user, ok, err := c.sessions.CurrentUser(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "current user unavailable")
		return Order{}, err
	}
	if !ok {
		c.notify(ctx, "Please login to checkout")
		return Order{}, ErrNotAuthenticated
	}

	lockCtx, unlock := c.locker.Lock(ctx, c.cart.LockKey(), c.factory.LockKey())
	priced := c.pricing.CalculateTotals(c.cart.GetCart(lockCtx), user.Role)
	order, err := c.factory.Checkout(lockCtx, &user, priced.Items, priced.Totals)
	unlock()

	switch {
	case errors.Is(err, ErrEmptyCart):
		return Order{}, err
	case err != nil && order.ID == "":
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		c.logger(ctx, "checkout.failed", map[string]any{"error": err.Error()})
		return Order{}, err
	case err != nil:
		// the order is durable; only the cart clear failed
		span.RecordError(err)
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("order.items", len(order.Items)),
		attribute.String("order.total", order.Total.String()),
	)
	c.logger(ctx, "checkout.order_placed", map[string]any{
		"orderID": order.ID,
		"userID":  user.ID,
		"total":   order.Total.String(),
		"items":   len(order.Items),
	})
	c.notify(ctx, fmt.Sprintf("Order #%s placed successfully!", order.ID))
	if c.placed != nil {
		c.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(user.Role))))
	}

	c.announce(ctx, user, order)
	return order, err
}

// announce publishes the order event and sends the confirmation mail. Failures are logged only.
func (c *CheckoutOrchestrator) announce(ctx context.Context, user SessionUser, order Order) {
	if c.events != nil {
		if err := c.events.PublishOrderPlaced(ctx, order); err != nil {
			c.logger(ctx, "checkout.publish_failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		}
	}
	if c.mailer != nil {
		if err := c.mailer.SendOrderConfirmation(ctx, user, order); err != nil {
			c.logger(ctx, "checkout.mail_failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		}
	}
}

func (c *CheckoutOrchestrator) notify(ctx context.Context, message string) {
	if c.notifier != nil {
		c.notifier.Notify(ctx, message)
	}
}
