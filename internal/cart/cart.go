// Package cart aggregates priced line items, derived bonus lines and totals.
package cart

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/bonus"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

var (
	// ErrLineNotFound is returned when a line id is not in the cart.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrBonusLine is returned when a derived bonus line is edited directly.
	ErrBonusLine = errors.New("bonus lines are derived and cannot be edited")
	// ErrInvalidLineDiscount is returned for negative or oversized line discounts.
	ErrInvalidLineDiscount = errors.New("line discount must be between 0 and the line amount")
	// ErrInvalidUnitPrice is returned for negative manual prices.
	ErrInvalidUnitPrice = errors.New("unit price must not be negative")
)

var hundred = decimal.NewFromInt(100)

// Line is a priced cart, order or sale line.
type Line struct {
	ID              string           `json:"id"`
	ProductID       string           `json:"productId"`
	ProductName     string           `json:"productName"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       decimal.Decimal  `json:"unitPrice"`
	Discount        decimal.Decimal  `json:"discount"`
	DiscountPercent *decimal.Decimal `json:"discountPercent,omitempty"`
	Total           decimal.Decimal  `json:"total"`
	IsBonus         bool             `json:"isBonus,omitempty"`
	LinkedTo        string           `json:"linkedTo,omitempty"`
	BonusRule       *int             `json:"bonusRule,omitempty"`
}

// Gross is quantity times unit price, rounded to cents.
func (l Line) Gross() decimal.Decimal {
	return pricing.Gross(l.Quantity, l.UnitPrice)
}

// Snapshot is an immutable view of the cart after a mutation.
type Snapshot struct {
	Customer      *catalog.CustomerSnapshot `json:"customer,omitempty"`
	Lines         []Line                    `json:"items"`
	Bonuses       []Line                    `json:"bonuses"`
	Subtotal      decimal.Decimal           `json:"subtotal"`
	TotalDiscount decimal.Decimal           `json:"totalDiscount"`
	Total         decimal.Decimal           `json:"total"`
}

// Changes describes an edit of a paid line. Nil fields are left untouched.
type Changes struct {
	Quantity        *decimal.Decimal
	UnitPrice       *decimal.Decimal
	Discount        *decimal.Decimal
	DiscountPercent *decimal.Decimal
}

type entry struct {
	line    Line
	product catalog.Product
}

// Cart is a caller-owned, single-goroutine working set of lines.
type Cart struct {
	customer *catalog.Customer
	entries  []entry
	bonuses  []Line
	newID    func() string
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{newID: uuid.NewString}
}

// Add puts qty units of p in the cart, merging with an existing line for the
// same product.
func (c *Cart) Add(p catalog.Product, qty decimal.Decimal) (Snapshot, error) {
	if err := pricing.ValidateQuantity(p, qty); err != nil {
		return c.Snapshot(), err
	}
	for i := range c.entries {
		if c.entries[i].product.ID != p.ID {
			continue
		}
		e := c.entries[i]
		e.product = p
		e.line.Quantity = e.line.Quantity.Add(qty)
		if err := c.reprice(&e); err != nil {
			return c.Snapshot(), err
		}
		c.entries[i] = e
		return c.refresh(), nil
	}
	e := entry{
		product: p,
		line: Line{
			ID:          c.id(),
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    qty,
		},
	}
	if err := c.reprice(&e); err != nil {
		return c.Snapshot(), err
	}
	c.entries = append(c.entries, e)
	return c.refresh(), nil
}

// UpdateLine edits a paid line. An explicit unit price wins over the resolved
// one; a quantity change without a price re-resolves it.
func (c *Cart) UpdateLine(id string, ch Changes) (Snapshot, error) {
	idx, err := c.find(id)
	if err != nil {
		return c.Snapshot(), err
	}
	e := c.entries[idx]
	if ch.Quantity != nil {
		if err := pricing.ValidateQuantity(e.product, *ch.Quantity); err != nil {
			return c.Snapshot(), err
		}
		e.line.Quantity = *ch.Quantity
	}
	switch {
	case ch.UnitPrice != nil:
		if ch.UnitPrice.IsNegative() {
			return c.Snapshot(), ErrInvalidUnitPrice
		}
		e.line.UnitPrice = pricing.Round(*ch.UnitPrice)
	case ch.Quantity != nil:
		price, err := pricing.ResolveUnitPrice(e.product, e.line.Quantity, c.customer)
		if err != nil {
			return c.Snapshot(), err
		}
		e.line.UnitPrice = price
	}
	switch {
	case ch.DiscountPercent != nil:
		pct := *ch.DiscountPercent
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return c.Snapshot(), fmt.Errorf("discount percent %s: %w", pct, ErrInvalidLineDiscount)
		}
		e.line.DiscountPercent = &pct
	case ch.Discount != nil:
		e.line.DiscountPercent = nil
		e.line.Discount = pricing.Round(*ch.Discount)
	}
	if err := settle(&e.line); err != nil {
		return c.Snapshot(), err
	}
	c.entries[idx] = e
	return c.refresh(), nil
}

// RemoveLine drops a paid line together with the bonuses it produced.
func (c *Cart) RemoveLine(id string) (Snapshot, error) {
	idx, err := c.find(id)
	if err != nil {
		return c.Snapshot(), err
	}
	c.entries = append(c.entries[:idx:idx], c.entries[idx+1:]...)
	return c.refresh(), nil
}

// Reset empties the cart and forgets the customer.
func (c *Cart) Reset() Snapshot {
	c.entries = nil
	c.customer = nil
	return c.refresh()
}

// SetCustomer changes the buyer and reprices every line for their discount.
// Manual prices are replaced by resolved ones.
func (c *Cart) SetCustomer(customer *catalog.Customer) (Snapshot, error) {
	if customer != nil {
		if err := pricing.ValidateDiscount(customer.Discount); err != nil {
			return c.Snapshot(), err
		}
		cp := *customer
		customer = &cp
	}
	previous := c.customer
	c.customer = customer
	repriced := make([]entry, len(c.entries))
	copy(repriced, c.entries)
	for i := range repriced {
		if err := c.reprice(&repriced[i]); err != nil {
			c.customer = previous
			return c.Snapshot(), err
		}
	}
	c.entries = repriced
	return c.refresh(), nil
}

// Snapshot returns the current state without mutating the cart.
func (c *Cart) Snapshot() Snapshot {
	snap := Snapshot{
		Lines:   make([]Line, 0, len(c.entries)),
		Bonuses: make([]Line, 0, len(c.bonuses)),
	}
	if c.customer != nil {
		cs := c.customer.Snapshot()
		snap.Customer = &cs
	}
	lines := make([]pricing.Line, 0, len(c.entries))
	for _, e := range c.entries {
		snap.Lines = append(snap.Lines, e.line)
		lines = append(lines, pricing.Line{Quantity: e.line.Quantity, UnitPrice: e.line.UnitPrice, Discount: e.line.Discount})
	}
	snap.Bonuses = append(snap.Bonuses, c.bonuses...)
	summary := pricing.Summarize(lines)
	snap.Subtotal = summary.Subtotal
	snap.TotalDiscount = summary.TotalDiscount
	snap.Total = summary.Total
	return snap
}

func (c *Cart) id() string {
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c.newID()
}

func (c *Cart) find(id string) (int, error) {
	for i := range c.entries {
		if c.entries[i].line.ID == id {
			return i, nil
		}
	}
	for _, b := range c.bonuses {
		if b.ID == id {
			return -1, ErrBonusLine
		}
	}
	return -1, fmt.Errorf("line %s: %w", id, ErrLineNotFound)
}

func (c *Cart) reprice(e *entry) error {
	price, err := pricing.ResolveUnitPrice(e.product, e.line.Quantity, c.customer)
	if err != nil {
		return err
	}
	e.line.UnitPrice = price
	return settle(&e.line)
}

// productName is the name of id when it is also sold in the cart.
func (c *Cart) productName(id string) string {
	for _, e := range c.entries {
		if e.product.ID == id {
			return e.product.Name
		}
	}
	return ""
}

// settle recomputes the percentage discount and the line total.
func settle(l *Line) error {
	gross := l.Gross()
	if l.DiscountPercent != nil {
		l.Discount = pricing.PercentOf(gross, *l.DiscountPercent)
	}
	if l.Discount.IsNegative() || l.Discount.GreaterThan(gross) {
		return fmt.Errorf("discount %s on %s: %w", l.Discount, gross, ErrInvalidLineDiscount)
	}
	l.Total = gross.Sub(l.Discount)
	return nil
}

func (c *Cart) refresh() Snapshot {
	paid := make([]bonus.Paid, 0, len(c.entries))
	for _, e := range c.entries {
		paid = append(paid, bonus.Paid{LineID: e.line.ID, Product: e.product, Quantity: e.line.Quantity})
	}
	grants := bonus.Derive(paid)
	c.bonuses = make([]Line, 0, len(grants))
	for _, g := range grants {
		rule := g.RuleIndex
		name := g.ProductName
		if name == "" {
			name = c.productName(g.ProductID)
		}
		c.bonuses = append(c.bonuses, Line{
			ID:          g.ID,
			ProductID:   g.ProductID,
			ProductName: name,
			Quantity:    g.Quantity,
			UnitPrice:   decimal.Zero,
			Discount:    decimal.Zero,
			Total:       decimal.Zero,
			IsBonus:     true,
			LinkedTo:    g.LinkedTo,
			BonusRule:   &rule,
		})
	}
	return c.Snapshot()
}
