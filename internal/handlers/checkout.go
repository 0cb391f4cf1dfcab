package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/farmstall/api/internal/platform/httpx"
	"github.com/farmstall/api/internal/platform/requestctx"
	"github.com/farmstall/api/internal/services"
)

// CheckoutHandlers turns the device cart into an order.
type CheckoutHandlers struct {
	resolve StorefrontResolver
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(resolve StorefrontResolver) *CheckoutHandlers {
	return &CheckoutHandlers{resolve: resolve}
}

// Routes wires the /checkout endpoint.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.placeOrder)
}

type checkoutPayload struct {
	Placed bool            `json:"placed"`
	Order  *services.Order `json:"order,omitempty"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}

	order, err := sf.Checkout.PlaceOrder(ctx)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrEmptyCart):
		// an empty cart is a silent no-op
		respond(w, http.StatusOK, sf, checkoutPayload{Placed: false})
		return
	case order.ID != "":
		// the order is stored even though the cart could not be cleared
		requestctx.Logger(ctx).Warn("order placed but cart not cleared", zap.String("orderId", order.ID), zap.Error(err))
	default:
		h.writeCheckoutError(ctx, w, sf, err)
		return
	}
	respond(w, http.StatusCreated, sf, checkoutPayload{Placed: true, Order: &order})
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, sf *Storefront, err error) {
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		respondError(ctx, w, sf, httpx.NewError("not_authenticated", "Please login to checkout", http.StatusUnauthorized))
	default:
		requestctx.Logger(ctx).Error("checkout failed", zap.Error(err))
		respondError(ctx, w, sf, httpx.NewError("checkout_failed", "order could not be placed", http.StatusInternalServerError))
	}
}
