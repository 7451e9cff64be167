// Package bonus derives free "buy N get M" lines from paid quantities.
package bonus

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/catalog"
)

// Paid is a purchased line that may trigger bonus rules.
type Paid struct {
	LineID   string
	Product  catalog.Product
	Quantity decimal.Decimal
}

// Grant is a derived free line.
type Grant struct {
	ID          string          `json:"id"`
	LinkedTo    string          `json:"linkedTo"`
	RuleIndex   int             `json:"ruleIndex"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// GrantID names the n-th grant of a paid line. The first keeps the short
// form so ids stay stable for single-rule products.
func GrantID(lineID string, n int) string {
	if n == 0 {
		return lineID + "_bonus"
	}
	return lineID + "_bonus_" + strconv.Itoa(n)
}

// Count returns floor(qty / threshold) x free quantity for an applicable
// rule and zero otherwise.
func Count(rule catalog.BonusRule, qty decimal.Decimal) decimal.Decimal {
	if !rule.Enabled || !rule.Threshold.IsPositive() || !rule.FreeQuantity.IsPositive() || !qty.IsPositive() {
		return decimal.Zero
	}
	times, _ := qty.QuoRem(rule.Threshold, 0)
	if !times.IsPositive() {
		return decimal.Zero
	}
	return times.Mul(rule.FreeQuantity)
}

// Derive computes the complete set of bonus lines for paid. The result only
// depends on its input, so re-deriving after every cart mutation is safe.
func Derive(paid []Paid) []Grant {
	grants := make([]Grant, 0)
	for _, line := range paid {
		rules := line.Product.Bonuses
		if len(rules) > catalog.MaxBonusRules {
			rules = rules[:catalog.MaxBonusRules]
		}
		n := 0
		for idx, rule := range rules {
			qty := Count(rule, line.Quantity)
			if !qty.IsPositive() {
				continue
			}
			productID, productName := rule.FreeProductID, rule.FreeProductName
			if productID == "" {
				productID, productName = line.Product.ID, line.Product.Name
			}
			if productName == "" && productID == line.Product.ID {
				productName = line.Product.Name
			}
			grants = append(grants, Grant{
				ID:          GrantID(line.LineID, n),
				LinkedTo:    line.LineID,
				RuleIndex:   idx,
				ProductID:   productID,
				ProductName: productName,
				Quantity:    qty,
			})
			n++
		}
	}
	return grants
}
