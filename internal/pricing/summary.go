package pricing

import "github.com/shopspring/decimal"

// Line is the pricing view of a cart or order line.
type Line struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	Bonus     bool
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	Total         decimal.Decimal `json:"total"`
}

// Gross is qty x unit price rounded to cents.
func Gross(qty, unitPrice decimal.Decimal) decimal.Decimal {
	return Round(qty.Mul(unitPrice))
}

// PercentOf returns pct percent of amount, rounded to cents.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// LineTotal is the gross amount less the line discount.
func LineTotal(qty, unitPrice, discount decimal.Decimal) decimal.Decimal {
	return Gross(qty, unitPrice).Sub(discount)
}

// Summarize computes cart totals. Bonus lines are free and never contribute.
func Summarize(lines []Line) Summary {
	subtotal := decimal.Zero
	discount := decimal.Zero
	for _, line := range lines {
		if line.Bonus || !line.Quantity.IsPositive() {
			continue
		}
		subtotal = subtotal.Add(Gross(line.Quantity, line.UnitPrice))
		discount = discount.Add(line.Discount)
	}
	return Summary{
		Subtotal:      subtotal,
		TotalDiscount: discount,
		Total:         subtotal.Sub(discount),
	}
}
