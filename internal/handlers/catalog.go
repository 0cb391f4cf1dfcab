package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/httpx"
	"github.com/farmstall/api/internal/platform/requestctx"
	"github.com/farmstall/api/internal/services"
)

// CatalogHandlers expose the product listing and farmer listing management.
type CatalogHandlers struct {
	resolve StorefrontResolver
}

// NewCatalogHandlers constructs the catalog handlers.
func NewCatalogHandlers(resolve StorefrontResolver) *CatalogHandlers {
	return &CatalogHandlers{resolve: resolve}
}

// Routes wires the /products endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Post("/", h.addProduct)
	r.Get("/{productID}", h.getProduct)
	r.Delete("/{productID}", h.deleteProduct)
}

type addProductRequest struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Image    string `json:"image"`
	Desc     string `json:"desc"`
	Category string `json:"category"`
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	filter, err := parseProductFilter(r)
	if err != nil {
		respondError(ctx, w, sf, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := sf.Catalog.ListProducts(ctx, filter)
	if err != nil {
		h.writeCatalogError(ctx, w, sf, err)
		return
	}
	respond(w, http.StatusOK, sf, page)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	product, err := sf.Catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeCatalogError(ctx, w, sf, err)
		return
	}
	respond(w, http.StatusOK, sf, product)
}

func (h *CatalogHandlers) addProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	user, ok := currentUser(w, r, sf)
	if !ok {
		return
	}
	var req addProductRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		respondError(ctx, w, sf, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	product, err := sf.Catalog.AddProduct(ctx, user, services.AddProductCommand{
		Name:     req.Name,
		Price:    req.Price,
		Image:    req.Image,
		Desc:     req.Desc,
		Category: req.Category,
	})
	if err != nil {
		h.writeCatalogError(ctx, w, sf, err)
		return
	}
	sf.Notifications.Notify(ctx, product.Name+" listed!")
	respond(w, http.StatusCreated, sf, product)
}

func (h *CatalogHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sf, ok := resolveStorefront(w, r, h.resolve)
	if !ok {
		return
	}
	user, ok := currentUser(w, r, sf)
	if !ok {
		return
	}
	if err := sf.Catalog.DeleteProduct(ctx, user, chi.URLParam(r, "productID")); err != nil {
		h.writeCatalogError(ctx, w, sf, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseProductFilter(r *http.Request) (services.ProductFilter, error) {
	query := r.URL.Query()
	filter := services.ProductFilter{
		Category: strings.TrimSpace(query.Get("category")),
		Search:   strings.TrimSpace(query.Get("search")),
		Page:     1,
	}
	switch sort := domain.ProductSort(strings.ToLower(strings.TrimSpace(query.Get("sort")))); sort {
	case domain.ProductSortDefault, domain.ProductSortPriceAsc, domain.ProductSortPriceDesc:
		filter.Sort = sort
	default:
		return services.ProductFilter{}, errors.New("sort must be price-asc or price-desc")
	}
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return services.ProductFilter{}, errors.New("page must be a positive integer")
		}
		filter.Page = page
	}
	return filter, nil
}

func (h *CatalogHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, sf *Storefront, err error) {
	switch {
	case errors.Is(err, services.ErrProductNotFound):
		respondError(ctx, w, sf, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrForbidden):
		respondError(ctx, w, sf, httpx.NewError("forbidden", "only the owning farmer may change this listing", http.StatusForbidden))
	case errors.Is(err, services.ErrInvalidInput):
		respondError(ctx, w, sf, httpx.NewError("invalid_product", err.Error(), http.StatusBadRequest))
	default:
		requestctx.Logger(ctx).Error("catalog request failed", zap.Error(err))
		respondError(ctx, w, sf, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusInternalServerError))
	}
}
