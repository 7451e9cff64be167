// Package pricing resolves unit prices from tiered wholesale tables and
// customer discounts, and aggregates line totals.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/catalog"
)

var (
	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrFractionalQuantity is returned for fractional quantities of unit products.
	ErrFractionalQuantity = errors.New("quantity must be a whole number for unit products")
	// ErrInvalidDiscount is returned for customer discounts outside [0, 100).
	ErrInvalidDiscount = errors.New("customer discount must be at least 0 and below 100")
)

var hundred = decimal.NewFromInt(100)

// Round rounds a monetary amount to cents, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ValidateQuantity checks qty against the product's measure.
func ValidateQuantity(p catalog.Product, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%s: %w", qty, ErrInvalidQuantity)
	}
	if !p.AllowsFractional() && !qty.Equal(qty.Truncate(0)) {
		return fmt.Errorf("%s: %w", qty, ErrFractionalQuantity)
	}
	return nil
}

// ValidateDiscount checks a customer discount percentage.
func ValidateDiscount(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("%s: %w", pct, ErrInvalidDiscount)
	}
	return nil
}

// SelectTier returns the tier with the highest MinQuantity not above qty.
// Tiers may be in any order.
func SelectTier(tiers []catalog.Tier, qty decimal.Decimal) (catalog.Tier, bool) {
	var (
		best  catalog.Tier
		found bool
	)
	for _, tier := range tiers {
		if !tier.MinQuantity.IsPositive() || tier.MinQuantity.GreaterThan(qty) {
			continue
		}
		if !found || tier.MinQuantity.GreaterThan(best.MinQuantity) {
			best, found = tier, true
		}
	}
	return best, found
}

// ResolveUnitPrice determines the unit price for qty units of p sold to
// customer (which may be nil). The result is rounded once, at the end.
func ResolveUnitPrice(p catalog.Product, qty decimal.Decimal, customer *catalog.Customer) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", qty, ErrInvalidQuantity)
	}
	price := p.BasePrice()
	switch {
	case len(p.WholesaleTiers) > 0:
		if tier, ok := SelectTier(p.WholesaleTiers, qty); ok {
			price = tier.UnitPrice
		}
	case p.WholesaleThreshold != nil && p.WholesaleThreshold.IsPositive() && qty.GreaterThanOrEqual(*p.WholesaleThreshold):
		if p.WholesalePrice != nil && p.WholesalePrice.IsPositive() {
			price = *p.WholesalePrice
		}
	}
	if customer != nil && customer.Discount.IsPositive() {
		if err := ValidateDiscount(customer.Discount); err != nil {
			return decimal.Zero, err
		}
		price = ApplyDiscount(price, customer.Discount)
	}
	return Round(price), nil
}

// ApplyDiscount multiplies price by (1 - pct/100) without rounding.
func ApplyDiscount(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(pct)).Div(hundred)
}
