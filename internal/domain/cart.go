package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// CartLineItem is a single product entry in a cart. Name is the identity of the line.
type CartLineItem struct {
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Image           string          `json:"image,omitempty"`
	Quantity        int             `json:"quantity"`
	HasBulkDiscount bool            `json:"hasBulkDiscount"`
}

// NewCartLineItem builds a line from a product with quantity 1.
func NewCartLineItem(product Product) CartLineItem {
	return CartLineItem{
		Name:     product.Name,
		Price:    product.Price,
		Image:    product.Image,
		Quantity: 1,
	}
}

// UnmarshalJSON accepts prices as JSON numbers or decorated strings and defaults a missing quantity to 1.
func (i *CartLineItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name            string          `json:"name"`
		Price           json.RawMessage `json:"price"`
		Image           string          `json:"image"`
		Quantity        *int            `json:"quantity"`
		HasBulkDiscount bool            `json:"hasBulkDiscount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = CartLineItem{
		Name:            raw.Name,
		Price:           ParsePriceJSON(raw.Price),
		Image:           raw.Image,
		Quantity:        1,
		HasBulkDiscount: raw.HasBulkDiscount,
	}
	if raw.Quantity != nil && *raw.Quantity >= 1 {
		i.Quantity = *raw.Quantity
	}
	return nil
}

// EffectiveQuantity reports the quantity used for counting and pricing; anything below 1 counts as 1.
func (i CartLineItem) EffectiveQuantity() int {
	if i.Quantity < 1 {
		return 1
	}
	return i.Quantity
}

// CloneCart returns an independent copy of the cart.
func CloneCart(items []CartLineItem) []CartLineItem {
	if items == nil {
		return []CartLineItem{}
	}
	cloned := make([]CartLineItem, len(items))
	copy(cloned, items)
	return cloned
}

// ParsePrice extracts a price from a decorated string such as "₱15.00".
// Every character that is not a digit or a decimal point is dropped and parsing stops at a second decimal point.
// Unparseable input yields zero.
func ParsePrice(value string) decimal.Decimal {
	var b strings.Builder
	seenDot := false
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.':
			if seenDot {
				return parseDigits(b.String())
			}
			seenDot = true
			b.WriteRune(r)
		}
	}
	return parseDigits(b.String())
}

// ParsePriceJSON parses a price stored either as a JSON number or as a JSON string.
func ParsePriceJSON(raw json.RawMessage) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero
		}
		return ParsePrice(s)
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero
	}
	// a leading minus sign is stripped like any other decoration
	return d.Abs()
}

func parseDigits(value string) decimal.Decimal {
	value = strings.TrimSuffix(value, ".")
	if value == "" {
		return decimal.Zero
	}
	if strings.HasPrefix(value, ".") {
		value = "0" + value
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}
