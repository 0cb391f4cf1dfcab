package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/httpx"
	"github.com/farmstall/api/internal/platform/requestctx"
	"github.com/farmstall/api/internal/services"
)

// CartHandlers exposes the device cart.
type CartHandlers struct {
	resolve StorefrontResolver
}

// NewCartHandlers constructs the cart handlers.
func NewCartHandlers(resolve StorefrontResolver) *CartHandlers {
	return &CartHandlers{resolve: resolve}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{index}", h.updateQuantity)
	r.Delete("/items/{index}", h.removeItem)
}

type cartPayload struct {
	Items  []services.CartLineItem `json:"items"`
	Totals services.Totals         `json:"totals"`
	Count  services.CartCount      `json:"count"`
}

// addCartItemRequest accepts either a catalog id or a raw product whose price may be a decorated string.
type addCartItemRequest struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     json.RawMessage `json:"price"`
	Image     string          `json:"image"`
}

type updateQuantityRequest struct {
	Delta int `json:"delta"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	h.writeCart(w, r, sf, http.StatusOK)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		respondError(ctx, w, sf, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var product services.Product
	if id := strings.TrimSpace(req.ProductID); id != "" {
		found, err := sf.Catalog.GetProduct(ctx, id)
		if err != nil {
			h.writeCartError(ctx, w, sf, err)
			return
		}
		product = found
	} else {
		product = services.Product{
			Name:  strings.TrimSpace(req.Name),
			Price: domain.ParsePriceJSON(req.Price),
			Image: strings.TrimSpace(req.Image),
		}
	}

	if err := sf.Cart.AddItem(ctx, product); err != nil {
		h.writeCartError(ctx, w, sf, err)
		return
	}
	h.writeCart(w, r, sf, http.StatusCreated)
}

func (h *CartHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	index, ok := intParam(r, "index")
	if !ok {
		respondError(ctx, w, sf, httpx.NewError("invalid_index", "index must be an integer", http.StatusBadRequest))
		return
	}
	var req updateQuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		respondError(ctx, w, sf, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	changed, err := sf.Cart.UpdateQuantity(ctx, index, req.Delta)
	if err != nil {
		h.writeCartError(ctx, w, sf, err)
		return
	}
	if !changed {
		respondError(ctx, w, sf, httpx.NewError("cart_item_not_found", "no cart line at that index", http.StatusNotFound))
		return
	}
	h.writeCart(w, r, sf, http.StatusOK)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	index, ok := intParam(r, "index")
	if !ok {
		respondError(ctx, w, sf, httpx.NewError("invalid_index", "index must be an integer", http.StatusBadRequest))
		return
	}

	removed, err := sf.Cart.RemoveItem(ctx, index)
	if err != nil {
		h.writeCartError(ctx, w, sf, err)
		return
	}
	if !removed {
		respondError(ctx, w, sf, httpx.NewError("cart_item_not_found", "no cart line at that index", http.StatusNotFound))
		return
	}
	h.writeCart(w, r, sf, http.StatusOK)
}

// writeCart prices the cart for the current user's role; visitors are priced as consumers.
func (h *CartHandlers) writeCart(w http.ResponseWriter, r *http.Request, sf *Storefront, status int) {
	ctx := r.Context()
	role := domain.RoleConsumer
	if user, ok, err := sf.Sessions.CurrentUser(ctx); err == nil && ok {
		role = user.Role
	}
	priced := sf.Pricing.CalculateTotals(sf.Cart.GetCart(ctx), role)
	count := sf.Cart.UpdateCartCount(ctx)
	respond(w, status, sf, cartPayload{Items: priced.Items, Totals: priced.Totals, Count: count})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, sf *Storefront, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		respondError(ctx, w, sf, httpx.NewError("invalid_item", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		respondError(ctx, w, sf, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	default:
		requestctx.Logger(ctx).Error("cart request failed", zap.Error(err))
		respondError(ctx, w, sf, httpx.NewError("cart_unavailable", "cart could not be updated", http.StatusInternalServerError))
	}
}
