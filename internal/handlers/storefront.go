package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/farmstall/api/internal/platform/httpx"
	"github.com/farmstall/api/internal/platform/requestctx"
	"github.com/farmstall/api/internal/services"
)

// Storefront bundles the services bound to the calling device for the life of one request.
type Storefront struct {
	Cart          services.CartService
	Checkout      services.CheckoutService
	Sessions      services.SessionService
	Catalog       services.CatalogService
	Orders        services.OrderHistoryService
	Pricing       *services.PricingEngine
	Notifications *services.NotificationCollector
}

// StorefrontResolver builds the storefront for the device recorded on ctx.
type StorefrontResolver func(ctx context.Context) (*Storefront, error)

var errNoStorefront = errors.New("handlers: storefront resolver not configured")

// envelope is the body shape shared by every successful response.
type envelope struct {
	Data          any                 `json:"data"`
	Notifications []string            `json:"notifications"`
	CartCount     *services.CartCount `json:"cartCount,omitempty"`
}

func resolveStorefront(w http.ResponseWriter, r *http.Request, resolve StorefrontResolver) (*Storefront, bool) {
	ctx := r.Context()
	var (
		sf  *Storefront
		err = errNoStorefront
	)
	if resolve != nil {
		sf, err = resolve(ctx)
	}
	if err != nil || sf == nil {
		requestctx.Logger(ctx).Error("storefront unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("storefront_unavailable", "storefront is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	return sf, true
}

// respond writes data inside the envelope together with the notifications the request raised.
func respond(w http.ResponseWriter, status int, sf *Storefront, data any) {
	body := envelope{Data: data, Notifications: []string{}}
	if sf != nil && sf.Notifications != nil {
		body.Notifications = sf.Notifications.Messages()
		if count, ok := sf.Notifications.CartCount(); ok {
			body.CartCount = &count
		}
	}
	httpx.WriteJSON(w, status, body)
}

// respondError writes err and still surfaces any notifications raised before the failure.
func respondError(ctx context.Context, w http.ResponseWriter, sf *Storefront, err httpx.Error) {
	if sf != nil && sf.Notifications != nil {
		if messages := sf.Notifications.Messages(); len(messages) > 0 {
			err = err.WithDetails(map[string]any{"notifications": messages})
		}
	}
	httpx.WriteError(ctx, w, err)
}

// currentUser returns the logged-in user or ok=false; backend failures are written to w.
func currentUser(w http.ResponseWriter, r *http.Request, sf *Storefront) (services.SessionUser, bool) {
	user, ok, err := sf.Sessions.CurrentUser(r.Context())
	if err != nil {
		requestctx.Logger(r.Context()).Error("session lookup failed", zap.Error(err))
		respondError(r.Context(), w, sf, httpx.NewError("session_unavailable", "session is unavailable", http.StatusServiceUnavailable))
		return services.SessionUser{}, false
	}
	if !ok {
		respondError(r.Context(), w, sf, httpx.NewError("not_authenticated", "login required", http.StatusUnauthorized))
		return services.SessionUser{}, false
	}
	return user, true
}

func intParam(r *http.Request, name string) (int, bool) {
	value, err := strconv.Atoi(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		return 0, false
	}
	return value, true
}
