package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/farmstall/api/internal/domain"
)

// PricingPolicy holds the storefront's discount, shipping and tax parameters.
type PricingPolicy struct {
	BulkThreshold int
	BulkRate      decimal.Decimal
	BusinessRate  decimal.Decimal
	FlatShipping  decimal.Decimal
	TaxRate       decimal.Decimal
}

// DefaultPricingPolicy returns the storefront rules: 10% off lines of 10 or more, 5% off the whole
// cart for business accounts, 50 flat shipping on non-empty carts and 12% tax.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		BulkThreshold: 10,
		BulkRate:      decimal.RequireFromString("0.10"),
		BusinessRate:  decimal.RequireFromString("0.05"),
		FlatShipping:  decimal.NewFromInt(50),
		TaxRate:       decimal.RequireFromString("0.12"),
	}
}

// PricingEngine computes cart totals. It holds no state beyond its policy and never touches storage.
type PricingEngine struct {
	policy PricingPolicy
}

// NewPricingEngine constructs an engine. A zero policy selects DefaultPricingPolicy.
func NewPricingEngine(policy PricingPolicy) *PricingEngine {
	if policy.BulkThreshold <= 0 {
		policy = DefaultPricingPolicy()
	}
	return &PricingEngine{policy: policy}
}

// CalculateTotals prices the cart for the given role. The returned items are a copy of cart with
// HasBulkDiscount recomputed; cart itself is left untouched.
func (e *PricingEngine) CalculateTotals(cart []domain.CartLineItem, role domain.Role) domain.PricedCart {
	policy := e.policy
	items := domain.CloneCart(cart)

	subtotal := decimal.Zero
	savings := decimal.Zero
	for i := range items {
		qty := items[i].EffectiveQuantity()
		lineTotal := items[i].Price.Mul(decimal.NewFromInt(int64(qty)))

		items[i].HasBulkDiscount = qty >= policy.BulkThreshold
		if items[i].HasBulkDiscount {
			discount := lineTotal.Mul(policy.BulkRate)
			lineTotal = lineTotal.Sub(discount)
			savings = savings.Add(discount)
		}
		subtotal = subtotal.Add(lineTotal)
	}

	businessDiscount := decimal.Zero
	switch role {
	case domain.RoleBusiness:
		businessDiscount = subtotal.Mul(policy.BusinessRate)
		subtotal = subtotal.Sub(businessDiscount)
		savings = savings.Add(businessDiscount)
	case domain.RoleConsumer, domain.RoleFarmer:
	default:
		// unknown roles are priced as consumers
	}

	shipping := decimal.Zero
	if subtotal.IsPositive() {
		shipping = policy.FlatShipping
	}
	tax := subtotal.Mul(policy.TaxRate)

	return domain.PricedCart{
		Items: items,
		Totals: domain.Totals{
			Subtotal:         subtotal,
			Shipping:         shipping,
			Tax:              tax,
			Total:            subtotal.Add(shipping).Add(tax),
			Savings:          savings,
			BusinessDiscount: businessDiscount,
		},
	}
}
