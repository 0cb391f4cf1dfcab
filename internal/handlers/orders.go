package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/httpx"
	"github.com/farmstall/api/internal/platform/requestctx"
	"github.com/farmstall/api/internal/services"
)

// OrderHandlers serve the order history and the dashboard for the logged-in user.
type OrderHandlers struct {
	resolve StorefrontResolver
}

// NewOrderHandlers constructs the order handlers.
func NewOrderHandlers(resolve StorefrontResolver) *OrderHandlers {
	return &OrderHandlers{resolve: resolve}
}

// Routes wires GET /orders.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
}

// DashboardRoutes wires GET /dashboard.
func (h *OrderHandlers) DashboardRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.dashboard)
}

type dashboardPayload struct {
	User     services.SessionUser  `json:"user"`
	Summary  services.OrderSummary `json:"summary"`
	Products []services.Product    `json:"products,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	user, ok := currentUser(w, r, sf)
	if !ok {
		return
	}
	orders, err := sf.Orders.ListForUser(ctx, user.Email)
	if err != nil {
		h.writeOrderError(ctx, w, sf, err)
		return
	}
	respond(w, http.StatusOK, sf, orders)
}

// dashboard adds the farmer's own listings to the order summary.
func (h *OrderHandlers) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	user, ok := currentUser(w, r, sf)
	if !ok {
		return
	}
	summary, err := sf.Orders.Summary(ctx, user)
	if err != nil {
		h.writeOrderError(ctx, w, sf, err)
		return
	}
	payload := dashboardPayload{User: user, Summary: summary}
	if user.Role == domain.RoleFarmer {
		products, err := sf.Catalog.ListByOwner(ctx, user.ID)
		if err != nil {
			h.writeOrderError(ctx, w, sf, err)
			return
		}
		payload.Products = products
	}
	respond(w, http.StatusOK, sf, payload)
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, sf *Storefront, err error) {
	requestctx.Logger(ctx).Error("order history request failed", zap.Error(err))
	respondError(ctx, w, sf, httpx.NewError("orders_unavailable", "order history is unavailable", http.StatusInternalServerError))
}
