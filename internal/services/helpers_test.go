package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/kv"
)

var errStoreDown = errors.New("store down")

// flakyStore wraps a MemoryStore and fails operations on demand.
type flakyStore struct {
	*kv.MemoryStore
	mu        sync.Mutex
	failRead  map[string]bool
	failWrite map[string]bool
	writes    map[string]int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		MemoryStore: kv.NewMemoryStore(),
		failRead:    map[string]bool{},
		failWrite:   map[string]bool{},
		writes:      map[string]int{},
	}
}

func (s *flakyStore) Read(ctx context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	fail := s.failRead[key]
	s.mu.Unlock()
	if fail {
		return nil, false, errStoreDown
	}
	return s.MemoryStore.Read(ctx, key)
}

func (s *flakyStore) Write(ctx context.Context, key string, value json.RawMessage) error {
	s.mu.Lock()
	fail := s.failWrite[key]
	if !fail {
		s.writes[key]++
	}
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.MemoryStore.Write(ctx, key, value)
}

func (s *flakyStore) writeCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[key]
}

func (s *flakyStore) raw(t *testing.T, key string) string {
	t.Helper()
	data, ok, err := s.MemoryStore.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	if !ok {
		return ""
	}
	return string(data)
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%03d", prefix, n)
	}
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func product(name string, price int64) Product {
	return Product{ID: name, Name: name, Price: decimal.NewFromInt(price), Image: name + ".jpg"}
}

// storefront wires the device services over in-memory stores the way the HTTP host does.
type storefront struct {
	shared    *flakyStore
	device    *flakyStore
	locker    *kv.Locker
	collector *NotificationCollector
	cart      *CartStore
	sessions  *SessionManager
	factory   *OrderFactory
	checkout  *CheckoutOrchestrator
	history   *OrderHistory
	events    *recordingPublisher
	mailer    *recordingMailer
}

func newStorefront(t *testing.T) *storefront {
	t.Helper()
	sf := &storefront{
		shared:    newFlakyStore(),
		device:    newFlakyStore(),
		locker:    kv.NewLocker(),
		collector: NewNotificationCollector(nil),
		events:    &recordingPublisher{},
		mailer:    &recordingMailer{},
	}
	var err error
	sf.cart, err = NewCartStore(CartStoreDeps{
		Store:    sf.device,
		Locker:   sf.locker,
		Notifier: sf.collector,
		Observer: sf.collector,
	})
	if err != nil {
		t.Fatalf("NewCartStore: %v", err)
	}
	sf.sessions, err = NewSessionManager(SessionManagerDeps{
		Shared:   sf.shared,
		Device:   sf.device,
		Locker:   sf.locker,
		Notifier: sf.collector,
		Clock:    fixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		HashCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	sf.factory, err = NewOrderFactory(OrderFactoryDeps{
		Shared:      sf.shared,
		Cart:        sf.cart,
		Locker:      sf.locker,
		Clock:       fixedClock(time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)),
		IDGenerator: sequentialIDs("T"),
	})
	if err != nil {
		t.Fatalf("NewOrderFactory: %v", err)
	}
	sf.checkout, err = NewCheckoutOrchestrator(CheckoutOrchestratorDeps{
		Sessions: sf.sessions,
		Cart:     sf.cart,
		Pricing:  NewPricingEngine(PricingPolicy{}),
		Factory:  sf.factory,
		Locker:   sf.locker,
		Notifier: sf.collector,
		Events:   sf.events,
		Mailer:   sf.mailer,
	})
	if err != nil {
		t.Fatalf("NewCheckoutOrchestrator: %v", err)
	}
	sf.history, err = NewOrderHistory(OrderHistoryDeps{Shared: sf.shared})
	if err != nil {
		t.Fatalf("NewOrderHistory: %v", err)
	}
	return sf
}

func (sf *storefront) login(t *testing.T, role domain.Role) SessionUser {
	t.Helper()
	user, err := sf.sessions.Signup(context.Background(), SignupCommand{
		Name:     "Test " + string(role),
		Email:    string(role) + "@example.com",
		Password: "secret123",
		Role:     string(role),
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	return user
}

func (sf *storefront) orders(t *testing.T) []Order {
	t.Helper()
	var orders []Order
	if _, err := kv.ReadJSON(context.Background(), sf.shared, kv.KeyOrders, &orders); err != nil {
		t.Fatalf("read orders: %v", err)
	}
	return orders
}

type recordingPublisher struct {
	mu     sync.Mutex
	orders []Order
	err    error
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, order Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
	return p.err
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *recordingMailer) SendOrderConfirmation(_ context.Context, user SessionUser, order Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, user.Email+":"+order.ID)
	return m.err
}
