package services

import (
	"context"

	domain "github.com/farmstall/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CartLineItem = domain.CartLineItem
	CartCount    = domain.CartCount
	Order        = domain.Order
	OrderSummary = domain.OrderSummary
	PricedCart   = domain.PricedCart
	Product      = domain.Product
	ProductSort  = domain.ProductSort
	Role         = domain.Role
	SessionUser  = domain.SessionUser
	Totals       = domain.Totals
	User         = domain.User
)

// KeyLocker serialises read-modify-write sequences on store keys. kv.Locker satisfies it.
type KeyLocker interface {
	Lock(ctx context.Context, keys ...string) (context.Context, func())
}

// Notifier surfaces short user-facing messages.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// CartCountObserver receives the badge state after every cart mutation.
type CartCountObserver interface {
	CartCountChanged(ctx context.Context, count CartCount)
}

// CurrentUserProvider resolves the identity of the caller, reporting false when nobody is logged in.
type CurrentUserProvider interface {
	CurrentUser(ctx context.Context) (SessionUser, bool, error)
}

// OrderEventPublisher announces placed orders to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order Order) error
}

// OrderMailer delivers order confirmations.
type OrderMailer interface {
	SendOrderConfirmation(ctx context.Context, user SessionUser, order Order) error
}

// CartService owns the device cart.
type CartService interface {
	GetCart(ctx context.Context) []CartLineItem
	AddItem(ctx context.Context, product Product) error
	UpdateQuantity(ctx context.Context, index, delta int) (bool, error)
	RemoveItem(ctx context.Context, index int) (bool, error)
	UpdateCartCount(ctx context.Context) CartCount
	ClearCart(ctx context.Context) error
}

// CheckoutService turns the device cart into an order for the logged-in user.
type CheckoutService interface {
	PlaceOrder(ctx context.Context) (Order, error)
}

// SessionService manages accounts and the device login.
type SessionService interface {
	CurrentUserProvider
	Signup(ctx context.Context, cmd SignupCommand) (SessionUser, error)
	Login(ctx context.Context, email, password string) (SessionUser, error)
	Logout(ctx context.Context) error
}

// CatalogService exposes the product listing.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductFilter) (ProductPage, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Product, error)
	AddProduct(ctx context.Context, actor SessionUser, cmd AddProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, actor SessionUser, id string) error
}

// OrderHistoryService reads placed orders back for the dashboard.
type OrderHistoryService interface {
	ListForUser(ctx context.Context, email string) ([]Order, error)
	Summary(ctx context.Context, user SessionUser) (OrderSummary, error)
}

// SignupCommand carries the registration form.
type SignupCommand struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// ProductFilter narrows a catalog listing. Page is 1-based.
type ProductFilter struct {
	Category string
	Search   string
	Sort     ProductSort
	Page     int
}

// ProductPage is one page of a catalog listing.
type ProductPage struct {
	Items      []Product `json:"items"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
	Total      int       `json:"total"`
}

// AddProductCommand carries a farmer's new listing.
type AddProductCommand struct {
	Name     string
	Price    string
	Image    string
	Desc     string
	Category string
}
