package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/farmstall/api/internal/handlers"
	"github.com/farmstall/api/internal/platform/auth"
	"github.com/farmstall/api/internal/platform/config"
	pfirestore "github.com/farmstall/api/internal/platform/firestore"
	"github.com/farmstall/api/internal/platform/jobs"
	"github.com/farmstall/api/internal/platform/kv"
	"github.com/farmstall/api/internal/platform/mail"
	"github.com/farmstall/api/internal/platform/observability"
	"github.com/farmstall/api/internal/platform/requestctx"
	"github.com/farmstall/api/internal/services"
)

const (
	meterName = "github.com/farmstall/api/internal/services"

	loginAttemptLimit  = 10
	loginAttemptWindow = 15 * time.Minute
	healthProbeKey     = "health"
)

// Container wires the shared store, platform adapters and per-device storefronts for runtime use.
type Container struct {
	Config  config.Config
	Shared  kv.Store
	Locker  *kv.Locker
	Devices *auth.DeviceTokens

	logger       *zap.Logger
	clock        func() time.Time
	pricing      *services.PricingEngine
	seed         []services.Product
	events       services.OrderEventPublisher
	mailer       services.OrderMailer
	ordersPlaced metric.Int64Counter
	tracer       trace.Tracer
	closers      []func(context.Context) error
}

type containerOptions struct {
	logger *zap.Logger
	clock  func() time.Time
	store  kv.Store
	events services.OrderEventPublisher
	mailer services.OrderMailer
	meter  metric.Meter
}

// Option customises container construction.
type Option func(*containerOptions)

// WithLogger sets the base logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithClock overrides the clock used for orders, accounts and device tokens.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// WithStore replaces the configured store backend.
func WithStore(store kv.Store) Option {
	return func(o *containerOptions) {
		o.store = store
	}
}

// WithOrderPublisher replaces the Pub/Sub order event publisher.
func WithOrderPublisher(events services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = events
	}
}

// WithMailer replaces the SendGrid order mailer.
func WithMailer(mailer services.OrderMailer) Option {
	return func(o *containerOptions) {
		o.mailer = mailer
	}
}

// WithMeter injects the meter used for the orders placed counter.
func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) {
		o.meter = meter
	}
}

// NewContainer constructs the runtime dependencies from cfg.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.meter == nil {
		options.meter = otel.GetMeterProvider().Meter(meterName)
	}

	c := &Container{
		Config:  cfg,
		Locker:  kv.NewLocker(),
		logger:  options.logger,
		clock:   options.clock,
		pricing: services.NewPricingEngine(services.DefaultPricingPolicy()),
		events:  options.events,
		mailer:  options.mailer,
		tracer:  otel.Tracer(meterName),
	}

	if err := c.buildStore(cfg, options.store); err != nil {
		return nil, err
	}
	if err := c.loadSeed(cfg.Catalog); err != nil {
		return nil, c.abort(ctx, err)
	}

	devices, err := auth.NewDeviceTokens(cfg.Session.SigningKey, cfg.Session.Issuer, cfg.Session.DeviceTokenTTL,
		auth.WithSecureCookie(cfg.Session.CookieSecure),
		auth.WithDeviceClock(options.clock),
		auth.WithDeviceLogger(options.logger.Named("device")),
	)
	if err != nil {
		return nil, c.abort(ctx, fmt.Errorf("build device tokens: %w", err))
	}
	c.Devices = devices

	if c.events == nil && cfg.PubSub.OrdersTopic != "" {
		if err := c.buildPublisher(ctx, cfg.PubSub); err != nil {
			return nil, c.abort(ctx, err)
		}
	}
	if c.mailer == nil && cfg.Mail.SendGridAPIKey != "" {
		mailer, err := mail.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.FromAddress, cfg.Mail.FromName,
			mail.WithLogger(options.logger.Named("mail")))
		if err != nil {
			return nil, c.abort(ctx, fmt.Errorf("build mailer: %w", err))
		}
		c.mailer = mailer
	}

	counter, err := services.NewOrdersPlacedCounter(options.meter)
	if err != nil {
		options.logger.Warn("orders placed metric unavailable", zap.Error(err))
	}
	c.ordersPlaced = counter

	return c, nil
}

func (c *Container) buildStore(cfg config.Config, override kv.Store) error {
	if override != nil {
		c.Shared = override
		return nil
	}
	switch cfg.Store.Backend {
	case config.StoreBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		store, err := kv.NewFirestoreStore(provider, cfg.Firestore.Collection)
		if err != nil {
			return fmt.Errorf("build firestore store: %w", err)
		}
		c.Shared = store
		c.closers = append(c.closers, provider.Close)
	case config.StoreBackendMemory, "":
		c.Shared = kv.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
	return nil
}

func (c *Container) loadSeed(cfg config.CatalogConfig) error {
	if cfg.SeedFile == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.SeedFile)
	if err != nil {
		return fmt.Errorf("read catalog seed: %w", err)
	}
	seed, err := services.ParseCatalogSeed(data)
	if err != nil {
		return fmt.Errorf("parse catalog seed %s: %w", cfg.SeedFile, err)
	}
	c.seed = seed
	return nil
}

func (c *Container) buildPublisher(ctx context.Context, cfg config.PubSubConfig) error {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("build pubsub client: %w", err)
	}
	topic := client.Topic(cfg.OrdersTopic)
	publisher, err := jobs.NewPubSubOrderPublisher(topic)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("build order publisher: %w", err)
	}
	c.events = publisher
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	return nil
}

func (c *Container) abort(ctx context.Context, err error) error {
	if closeErr := c.Close(ctx); closeErr != nil {
		c.logger.Warn("container cleanup failed", zap.Error(closeErr))
	}
	return err
}

// Close releases clients in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Storefront assembles the services for the device recorded on ctx. Each call gets its own
// notification collector so a response carries only the messages its request raised.
func (c *Container) Storefront(ctx context.Context) (*handlers.Storefront, error) {
	deviceID, ok := requestctx.DeviceID(ctx)
	if !ok || deviceID == "" {
		return nil, errors.New("di: no device on request")
	}
	device, err := kv.NewScoped(c.Shared, "devices/"+deviceID)
	if err != nil {
		return nil, err
	}

	events := observability.EventLogger(c.logger)
	collector := services.NewNotificationCollector(events)

	cart, err := services.NewCartStore(services.CartStoreDeps{
		Store:    device,
		Locker:   c.Locker,
		Notifier: collector,
		Observer: collector,
		Logger:   events,
	})
	if err != nil {
		return nil, fmt.Errorf("build cart: %w", err)
	}
	sessions, err := services.NewSessionManager(services.SessionManagerDeps{
		Shared:   c.Shared,
		Device:   device,
		Locker:   c.Locker,
		Notifier: collector,
		Clock:    c.clock,
		Logger:   events,
	})
	if err != nil {
		return nil, fmt.Errorf("build sessions: %w", err)
	}
	catalog, err := services.NewCatalog(services.CatalogDeps{
		Shared: c.Shared,
		Locker: c.Locker,
		Seed:   c.seed,
		Logger: events,
	})
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	factory, err := services.NewOrderFactory(services.OrderFactoryDeps{
		Shared: c.Shared,
		Cart:   cart,
		Locker: c.Locker,
		Clock:  c.clock,
		Logger: events,
	})
	if err != nil {
		return nil, fmt.Errorf("build order factory: %w", err)
	}
	checkout, err := services.NewCheckoutOrchestrator(services.CheckoutOrchestratorDeps{
		Sessions:     sessions,
		Cart:         cart,
		Pricing:      c.pricing,
		Factory:      factory,
		Locker:       c.Locker,
		Notifier:     collector,
		Events:       c.events,
		Mailer:       c.mailer,
		OrdersPlaced: c.ordersPlaced,
		Tracer:       c.tracer,
		Logger:       events,
	})
	if err != nil {
		return nil, fmt.Errorf("build checkout: %w", err)
	}
	history, err := services.NewOrderHistory(services.OrderHistoryDeps{
		Shared: c.Shared,
		Logger: events,
	})
	if err != nil {
		return nil, fmt.Errorf("build order history: %w", err)
	}

	return &handlers.Storefront{
		Cart:          cart,
		Checkout:      checkout,
		Sessions:      sessions,
		Catalog:       catalog,
		Orders:        history,
		Pricing:       c.pricing,
		Notifications: collector,
	}, nil
}

// Router builds the HTTP handler with the shared middleware chain and every storefront route group.
func (c *Container) Router(traceProjectID string, version string) http.Handler {
	httpLogger := c.logger.Named("http")
	orders := handlers.NewOrderHandlers(c.Storefront)

	health := handlers.NewHealthHandlers(
		handlers.WithHealthVersion(version),
		handlers.WithReadinessCheck("store", func(ctx context.Context) error {
			_, _, err := c.Shared.Read(ctx, healthProbeKey)
			return err
		}),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(traceProjectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithDeviceMiddleware(c.Devices.Middleware),
		handlers.WithCartRoutes(handlers.NewCartHandlers(c.Storefront).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(c.Storefront).Routes),
		handlers.WithSessionRoutes(handlers.NewSessionHandlers(c.Storefront,
			handlers.WithLoginRateLimit(loginAttemptLimit, loginAttemptWindow, c.clock),
		).Routes),
		handlers.WithProductRoutes(handlers.NewCatalogHandlers(c.Storefront).Routes),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithDashboardRoutes(orders.DashboardRoutes),
	)
}
