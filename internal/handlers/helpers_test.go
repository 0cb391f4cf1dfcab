package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/farmstall/api/internal/platform/kv"
	"github.com/farmstall/api/internal/platform/requestctx"
	"github.com/farmstall/api/internal/services"
)

const testDeviceID = "5b0f6c1e-2d3a-4e8f-9a7b-1c2d3e4f5a6b"

// testShop serves a single device backed by in-memory stores.
type testShop struct {
	shared *kv.MemoryStore
	device *kv.MemoryStore
	locker *kv.Locker
	router chi.Router
}

func newTestShop(t *testing.T, sessionOpts ...SessionOption) *testShop {
	t.Helper()
	shop := &testShop{
		shared: kv.NewMemoryStore(),
		device: kv.NewMemoryStore(),
		locker: kv.NewLocker(),
	}
	orders := NewOrderHandlers(shop.resolve)
	shop.router = NewRouter(
		WithDeviceMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(requestctx.WithDeviceID(r.Context(), testDeviceID)))
			})
		}),
		WithCartRoutes(NewCartHandlers(shop.resolve).Routes),
		WithCheckoutRoutes(NewCheckoutHandlers(shop.resolve).Routes),
		WithSessionRoutes(NewSessionHandlers(shop.resolve, sessionOpts...).Routes),
		WithProductRoutes(NewCatalogHandlers(shop.resolve).Routes),
		WithOrderRoutes(orders.Routes),
		WithDashboardRoutes(orders.DashboardRoutes),
	)
	return shop
}

func (s *testShop) resolve(ctx context.Context) (*Storefront, error) {
	collector := services.NewNotificationCollector(nil)
	cart, err := services.NewCartStore(services.CartStoreDeps{
		Store:    s.device,
		Locker:   s.locker,
		Notifier: collector,
		Observer: collector,
	})
	if err != nil {
		return nil, err
	}
	sessions, err := services.NewSessionManager(services.SessionManagerDeps{
		Shared:   s.shared,
		Device:   s.device,
		Locker:   s.locker,
		Notifier: collector,
		Clock:    time.Now,
		HashCost: bcrypt.MinCost,
	})
	if err != nil {
		return nil, err
	}
	catalog, err := services.NewCatalog(services.CatalogDeps{Shared: s.shared, Locker: s.locker})
	if err != nil {
		return nil, err
	}
	factory, err := services.NewOrderFactory(services.OrderFactoryDeps{
		Shared: s.shared,
		Cart:   cart,
		Locker: s.locker,
		Clock:  time.Now,
	})
	if err != nil {
		return nil, err
	}
	pricing := services.NewPricingEngine(services.DefaultPricingPolicy())
	checkout, err := services.NewCheckoutOrchestrator(services.CheckoutOrchestratorDeps{
		Sessions: sessions,
		Cart:     cart,
		Pricing:  pricing,
		Factory:  factory,
		Locker:   s.locker,
		Notifier: collector,
	})
	if err != nil {
		return nil, err
	}
	history, err := services.NewOrderHistory(services.OrderHistoryDeps{Shared: s.shared})
	if err != nil {
		return nil, err
	}
	return &Storefront{
		Cart:          cart,
		Checkout:      checkout,
		Sessions:      sessions,
		Catalog:       catalog,
		Orders:        history,
		Pricing:       pricing,
		Notifications: collector,
	}, nil
}

func (s *testShop) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testShop) signup(t *testing.T, role string) {
	t.Helper()
	body := `{"name":"Test ` + role + `","email":"` + role + `@example.com","password":"secret123","role":"` + role + `"}`
	if rr := s.do(t, http.MethodPost, "/v1/session/signup", body); rr.Code != http.StatusCreated {
		t.Fatalf("signup as %s: status %d body %s", role, rr.Code, rr.Body.String())
	}
}

type testEnvelope struct {
	Data          json.RawMessage     `json:"data"`
	Notifications []string            `json:"notifications"`
	CartCount     *services.CartCount `json:"cartCount"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder, data any) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rr.Body.String())
	}
	if data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v (body %s)", err, rr.Body.String())
		}
	}
	return env
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (body %s)", err, rr.Body.String())
	}
	return body
}

func hasNotification(messages []string, want string) bool {
	for _, m := range messages {
		if m == want {
			return true
		}
	}
	return false
}
