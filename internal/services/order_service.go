package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/farmstall/api/internal/domain"
	"github.com/farmstall/api/internal/platform/kv"
)

const recentOrderLimit = 3

var errOrderHistoryStoreRequired = errors.New("order history: shared store is required")

// OrderHistoryDeps wires the order log reader.
type OrderHistoryDeps struct {
	Shared kv.Store
	// BusinessRate is the share of spend reported as business savings; zero selects the pricing default.
	BusinessRate decimal.Decimal
	Logger       func(context.Context, string, map[string]any)
}

// OrderHistory reads a user's orders back from the shared order log.
type OrderHistory struct {
	shared       kv.Store
	businessRate decimal.Decimal
	logger       func(context.Context, string, map[string]any)
}

var _ OrderHistoryService = (*OrderHistory)(nil)

// NewOrderHistory constructs an OrderHistory enforcing dependency validation.
func NewOrderHistory(deps OrderHistoryDeps) (*OrderHistory, error) {
	if deps.Shared == nil {
		return nil, errOrderHistoryStoreRequired
	}
	rate := deps.BusinessRate
	if rate.IsZero() {
		rate = DefaultPricingPolicy().BusinessRate
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OrderHistory{shared: deps.Shared, businessRate: rate, logger: logger}, nil
}

// ListForUser returns the orders placed with email, newest first.
func (h *OrderHistory) ListForUser(ctx context.Context, email string) ([]Order, error) {
	email = normalizeEmail(email)
	if email == "" {
		return []Order{}, nil
	}
	orders, err := loadOrders(ctx, h.shared, h.logger)
	if err != nil {
		return nil, err
	}

	mine := make([]Order, 0, len(orders))
	for _, order := range orders {
		if strings.EqualFold(order.UserEmail, email) {
			mine = append(mine, order)
		}
	}
	// the log is append-only, so reversing is newest first; the stable sort only matters for imported data
	for i, j := 0, len(mine)-1; i < j; i, j = i+1, j-1 {
		mine[i], mine[j] = mine[j], mine[i]
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].Date.After(mine[j].Date) })
	return mine, nil
}

// Summary aggregates the dashboard figures for user.
func (h *OrderHistory) Summary(ctx context.Context, user SessionUser) (OrderSummary, error) {
	orders, err := h.ListForUser(ctx, user.Email)
	if err != nil {
		return OrderSummary{}, err
	}

	spent := decimal.Zero
	for _, order := range orders {
		spent = spent.Add(order.Total)
	}
	savings := decimal.Zero
	if user.Role == domain.RoleBusiness {
		savings = spent.Mul(h.businessRate).Round(2)
	}

	recent := orders
	if len(recent) > recentOrderLimit {
		recent = recent[:recentOrderLimit]
	}
	return OrderSummary{
		TotalOrders:     len(orders),
		TotalSpent:      spent,
		BusinessSavings: savings,
		Recent:          recent,
	}, nil
}
