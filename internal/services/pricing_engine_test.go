package services

import (
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/farmstall/api/internal/domain"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", value, err)
	}
	return d
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(t, want)) {
		t.Fatalf("%s = %s, want %s", name, got, want)
	}
}

func TestPricingEngine_BulkDiscount(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})
	cart := []domain.CartLineItem{{Name: "Potato", Price: decimal.NewFromInt(100), Quantity: 10}}

	priced := engine.CalculateTotals(cart, domain.RoleConsumer)

	assertDecimal(t, "subtotal", priced.Totals.Subtotal, "900")
	assertDecimal(t, "savings", priced.Totals.Savings, "100")
	assertDecimal(t, "businessDiscount", priced.Totals.BusinessDiscount, "0")
	assertDecimal(t, "shipping", priced.Totals.Shipping, "50")
	assertDecimal(t, "tax", priced.Totals.Tax, "108")
	assertDecimal(t, "total", priced.Totals.Total, "1058")
	if !priced.Items[0].HasBulkDiscount {
		t.Fatalf("expected bulk flag on priced copy")
	}
}

func TestPricingEngine_BusinessDiscount(t *testing.T) {
	engine := NewPricingEngine(DefaultPricingPolicy())
	cart := []domain.CartLineItem{{Name: "Strawberry", Price: decimal.NewFromInt(200), Quantity: 1}}

	priced := engine.CalculateTotals(cart, domain.RoleBusiness)

	assertDecimal(t, "businessDiscount", priced.Totals.BusinessDiscount, "10")
	assertDecimal(t, "subtotal", priced.Totals.Subtotal, "190")
	assertDecimal(t, "tax", priced.Totals.Tax, "22.8")
	assertDecimal(t, "shipping", priced.Totals.Shipping, "50")
	assertDecimal(t, "total", priced.Totals.Total, "262.8")
	assertDecimal(t, "savings", priced.Totals.Savings, "10")
}

func TestPricingEngine_BulkAndBusinessStack(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})
	cart := []domain.CartLineItem{
		{Name: "Apple", Price: decimal.NewFromInt(15), Quantity: 10},
		{Name: "Garlic", Price: decimal.NewFromInt(5), Quantity: 2},
	}

	priced := engine.CalculateTotals(cart, domain.RoleBusiness)

	// 150 - 15 bulk + 10 = 145; 5% business = 7.25
	assertDecimal(t, "businessDiscount", priced.Totals.BusinessDiscount, "7.25")
	assertDecimal(t, "subtotal", priced.Totals.Subtotal, "137.75")
	assertDecimal(t, "savings", priced.Totals.Savings, "22.25")
	assertDecimal(t, "tax", priced.Totals.Tax, "16.53")
	assertDecimal(t, "total", priced.Totals.Total, "204.28")
	if !priced.Items[0].HasBulkDiscount || priced.Items[1].HasBulkDiscount {
		t.Fatalf("unexpected bulk flags: %#v", priced.Items)
	}
}

func TestPricingEngine_BulkThresholdBoundary(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})

	nine := engine.CalculateTotals([]domain.CartLineItem{{Name: "Onions", Price: decimal.NewFromInt(8), Quantity: 9}}, domain.RoleConsumer)
	if nine.Items[0].HasBulkDiscount || !nine.Totals.Savings.IsZero() {
		t.Fatalf("quantity 9 must not receive the bulk discount: %#v", nine)
	}
	assertDecimal(t, "subtotal(9)", nine.Totals.Subtotal, "72")

	ten := engine.CalculateTotals([]domain.CartLineItem{{Name: "Onions", Price: decimal.NewFromInt(8), Quantity: 10}}, domain.RoleConsumer)
	if !ten.Items[0].HasBulkDiscount {
		t.Fatalf("quantity 10 must receive the bulk discount")
	}
	assertDecimal(t, "subtotal(10)", ten.Totals.Subtotal, "72")
	assertDecimal(t, "savings(10)", ten.Totals.Savings, "8")
}

func TestPricingEngine_EmptyCart(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})

	for _, role := range []domain.Role{domain.RoleConsumer, domain.RoleBusiness} {
		priced := engine.CalculateTotals(nil, role)
		if len(priced.Items) != 0 || priced.Items == nil {
			t.Fatalf("expected empty non-nil items, got %#v", priced.Items)
		}
		for name, value := range map[string]decimal.Decimal{
			"subtotal": priced.Totals.Subtotal,
			"shipping": priced.Totals.Shipping,
			"tax":      priced.Totals.Tax,
			"total":    priced.Totals.Total,
			"savings":  priced.Totals.Savings,
		} {
			if !value.IsZero() {
				t.Fatalf("%s for empty %s cart = %s, want 0", name, role, value)
			}
		}
	}
}

func TestPricingEngine_ZeroPricedLinesSkipShipping(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})
	cart := []domain.CartLineItem{{Name: "Free sample", Price: decimal.Zero, Quantity: 3}}

	priced := engine.CalculateTotals(cart, domain.RoleConsumer)
	if !priced.Totals.Shipping.IsZero() || !priced.Totals.Total.IsZero() {
		t.Fatalf("expected zero totals for zero-priced cart, got %#v", priced.Totals)
	}
}

func TestPricingEngine_MissingQuantityCountsAsOne(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})
	cart := []domain.CartLineItem{{Name: "Lettuce", Price: decimal.NewFromInt(7)}}

	priced := engine.CalculateTotals(cart, domain.RoleFarmer)
	assertDecimal(t, "subtotal", priced.Totals.Subtotal, "7")
}

func TestPricingEngine_DoesNotMutateInput(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})
	cart := []domain.CartLineItem{
		{Name: "Tomato", Price: decimal.NewFromInt(12), Quantity: 12},
		{Name: "Cabbage", Price: decimal.NewFromInt(11), Quantity: 1, HasBulkDiscount: true},
	}

	priced := engine.CalculateTotals(cart, domain.RoleConsumer)

	if cart[0].HasBulkDiscount {
		t.Fatalf("input line was annotated in place")
	}
	if !cart[1].HasBulkDiscount {
		t.Fatalf("input line flag was cleared in place")
	}
	if priced.Items[1].HasBulkDiscount {
		t.Fatalf("stale bulk flag kept on priced copy")
	}

	again := engine.CalculateTotals(cart, domain.RoleConsumer)
	if !again.Totals.Total.Equal(priced.Totals.Total) {
		t.Fatalf("pricing is not deterministic: %s vs %s", again.Totals.Total, priced.Totals.Total)
	}
}

func TestPricingEngine_UnknownRolePricedAsConsumer(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})
	cart := []domain.CartLineItem{{Name: "Carrots", Price: decimal.NewFromInt(100), Quantity: 1}}

	consumer := engine.CalculateTotals(cart, domain.RoleConsumer)
	unknown := engine.CalculateTotals(cart, domain.Role("wholesaler"))
	if !consumer.Totals.Total.Equal(unknown.Totals.Total) {
		t.Fatalf("unknown role priced differently: %s vs %s", unknown.Totals.Total, consumer.Totals.Total)
	}
}
