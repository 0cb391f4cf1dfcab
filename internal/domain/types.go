package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role enumerates the account categories a purchaser can hold.
type Role string

const (
	// RoleConsumer is the default shopper role.
	RoleConsumer Role = "consumer"
	// RoleFarmer can list and remove their own products.
	RoleFarmer Role = "farmer"
	// RoleBusiness receives the business discount on every cart.
	RoleBusiness Role = "business"
)

// ParseRole normalises a free-form role string. Empty input maps to RoleConsumer and unknown values report false.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case "", RoleConsumer:
		return RoleConsumer, true
	case RoleFarmer:
		return RoleFarmer, true
	case RoleBusiness:
		return RoleBusiness, true
	default:
		return "", false
	}
}

// NormalizeRole is ParseRole for values read back from storage, where unknown roles fall back to RoleConsumer.
func NormalizeRole(value string) Role {
	role, ok := ParseRole(value)
	if !ok {
		return RoleConsumer
	}
	return role
}

// UnmarshalText normalises roles decoded from persisted JSON.
func (r *Role) UnmarshalText(text []byte) error {
	*r = NormalizeRole(string(text))
	return nil
}

// OrderStatus enumerates order lifecycle tags.
type OrderStatus string

const (
	// OrderStatusProcessing is the status every order is created with.
	OrderStatusProcessing OrderStatus = "Processing"
)

// Order is the immutable record written at checkout.
type Order struct {
	ID        string          `json:"id"`
	UserEmail string          `json:"userEmail"`
	Date      time.Time       `json:"date"`
	Items     []CartLineItem  `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Status    OrderStatus     `json:"status"`
}

// Totals is the pricing outcome for a cart. It is computed on demand and never persisted.
type Totals struct {
	Subtotal         decimal.Decimal `json:"subtotal"`
	Shipping         decimal.Decimal `json:"shipping"`
	Tax              decimal.Decimal `json:"tax"`
	Total            decimal.Decimal `json:"total"`
	Savings          decimal.Decimal `json:"savings"`
	BusinessDiscount decimal.Decimal `json:"businessDiscount"`
}

// PricedCart pairs the annotated copy of a cart with its totals.
type PricedCart struct {
	Items  []CartLineItem `json:"items"`
	Totals Totals         `json:"totals"`
}

// CartCount is the badge state derived from a cart.
type CartCount struct {
	Count   int  `json:"count"`
	Visible bool `json:"visible"`
}

// User is a registered account as stored in the shared users slot.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SessionUser is the identity kept in a device's currentUser slot.
type SessionUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Session returns the session projection of the user.
func (u User) Session() SessionUser {
	return SessionUser{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// Product is a catalog listing.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image,omitempty"`
	Desc     string          `json:"desc,omitempty"`
	Category string          `json:"category"`
	OwnerID  string          `json:"ownerId"`
	Reviews  string          `json:"reviews,omitempty"`
	Sold     string          `json:"sold,omitempty"`
}

// ProductSort selects the ordering applied to catalog listings.
type ProductSort string

const (
	// ProductSortDefault keeps catalog order.
	ProductSortDefault ProductSort = ""
	// ProductSortPriceAsc orders by price, lowest first.
	ProductSortPriceAsc ProductSort = "price-asc"
	// ProductSortPriceDesc orders by price, highest first.
	ProductSortPriceDesc ProductSort = "price-desc"
)

// OrderSummary is the dashboard overview for a single user.
type OrderSummary struct {
	TotalOrders     int             `json:"totalOrders"`
	TotalSpent      decimal.Decimal `json:"totalSpent"`
	BusinessSavings decimal.Decimal `json:"businessSavings"`
	Recent          []Order         `json:"recent"`
}
