package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Collections holding catalog documents.
const (
	ProductsCollection  = "products"
	CustomersCollection = "customers"
)

// MaxBonusRules bounds the bonus rules evaluated per product.
const MaxBonusRules = 5

// Measure distinguishes countable products from products sold by weight.
type Measure string

const (
	MeasureUnit   Measure = "unit"
	MeasureWeight Measure = "weight"
)

// Tier is a wholesale price that applies from MinQuantity upwards.
type Tier struct {
	MinQuantity decimal.Decimal `json:"minQuantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unitPrice" validate:"gte=0"`
}

// BonusRule grants FreeQuantity units of FreeProductID for every Threshold
// units purchased.
type BonusRule struct {
	Enabled         bool            `json:"enabled"`
	Threshold       decimal.Decimal `json:"threshold" validate:"gt=0"`
	FreeProductID   string          `json:"bonusProductId" validate:"required"`
	FreeProductName string          `json:"bonusProductName,omitempty"`
	FreeQuantity    decimal.Decimal `json:"bonusQuantity" validate:"gt=0"`
}

// Valid reports whether the rule can ever produce a bonus line.
func (r BonusRule) Valid() bool {
	return r.Threshold.IsPositive() && r.FreeQuantity.IsPositive() && strings.TrimSpace(r.FreeProductID) != ""
}

// Product is a sellable catalog item.
type Product struct {
	ID             string           `json:"id"`
	Name           string           `json:"name" validate:"required"`
	Barcode        string           `json:"barcode,omitempty"`
	Category       string           `json:"category,omitempty"`
	Measure        Measure          `json:"measure,omitempty" validate:"omitempty,oneof=unit weight"`
	Price          decimal.Decimal  `json:"price" validate:"gte=0"`
	SalePrice      *decimal.Decimal `json:"salePrice,omitempty"`
	PurchasePrice  decimal.Decimal  `json:"purchasePrice" validate:"gte=0"`
	WholesaleTiers []Tier           `json:"wholesaleTiers,omitempty" validate:"dive"`
	Bonuses        []BonusRule      `json:"bonuses,omitempty" validate:"max=5,dive"`
	Stock          decimal.Decimal  `json:"stock"`

	// Legacy shapes, folded into WholesaleTiers and Bonuses by Normalize.
	WholesaleThreshold *decimal.Decimal `json:"wholesaleThreshold,omitempty"`
	WholesalePrice     *decimal.Decimal `json:"wholesalePrice,omitempty"`
	Bonus              *BonusRule       `json:"bonus,omitempty"`
	BonusEnabled       bool             `json:"bonusEnabled,omitempty"`
	BonusThreshold     *decimal.Decimal `json:"bonusThreshold,omitempty"`
	BonusQuantity      *decimal.Decimal `json:"bonusQuantity,omitempty"`
}

// BasePrice is the regular unit price before tiers and discounts.
func (p Product) BasePrice() decimal.Decimal {
	if p.SalePrice != nil && p.SalePrice.IsPositive() {
		return *p.SalePrice
	}
	return p.Price
}

// AllowsFractional reports whether quantities may have a fractional part.
func (p Product) AllowsFractional() bool {
	return p.Measure == MeasureWeight
}

// Customer is a buyer with an optional standing discount percentage.
type Customer struct {
	ID          string           `json:"id"`
	FirstName   string           `json:"firstName" validate:"required"`
	LastName    string           `json:"lastName,omitempty"`
	Phone       string           `json:"phone,omitempty"`
	Discount    decimal.Decimal  `json:"discount" validate:"gte=0,lt=100"`
	CreditLimit *decimal.Decimal `json:"creditLimit,omitempty"`
	RouteID     string           `json:"routeId,omitempty"`
}

// FullName joins first and last name.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// CustomerSnapshot is the customer data frozen onto orders and sales.
type CustomerSnapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Phone    string          `json:"phone,omitempty"`
	Discount decimal.Decimal `json:"discount"`
}

// Snapshot freezes the customer fields documents keep.
func (c Customer) Snapshot() CustomerSnapshot {
	return CustomerSnapshot{ID: c.ID, Name: c.FullName(), Phone: c.Phone, Discount: c.Discount}
}
