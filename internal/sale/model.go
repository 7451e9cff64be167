// Package sale holds finalized sales, inventory movements and customer
// credits, and registers direct point-of-sale transactions.
package sale

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/docstore"
)

// Collections written when a sale is finalized.
const (
	Collection          = "sales"
	MovementsCollection = "inventory_movements"
	CreditsCollection   = "credits"
)

// Origin records which path produced a sale.
type Origin string

const (
	OriginPresale Origin = "presale"
	OriginQuick   Origin = "quick"
)

// PaymentMethod is how the customer paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
)

// Valid reports whether m is an accepted payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	}
	return false
}

var (
	// ErrInvalidPaymentMethod is returned for unknown payment methods.
	ErrInvalidPaymentMethod = errors.New("payment method must be cash, card or transfer")
	// ErrInsufficientPayment is returned when the amount paid does not cover the total.
	ErrInsufficientPayment = errors.New("amount paid is less than the total")
)

// Payment is what the cashier collected.
type Payment struct {
	Method     PaymentMethod   `json:"paymentMethod"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
}

// Validate checks the method and, unless credit is allowed, that the amount
// covers total.
func (p Payment) Validate(total decimal.Decimal, allowCredit bool) error {
	if !p.Method.Valid() {
		return fmt.Errorf("%q: %w", p.Method, ErrInvalidPaymentMethod)
	}
	if p.AmountPaid.IsNegative() {
		return fmt.Errorf("amount paid %s: %w", p.AmountPaid, ErrInsufficientPayment)
	}
	if !allowCredit && p.AmountPaid.LessThan(total) {
		return fmt.Errorf("paid %s of %s: %w", p.AmountPaid, total, ErrInsufficientPayment)
	}
	return nil
}

// Change is the amount handed back, never negative.
func (p Payment) Change(total decimal.Decimal) decimal.Decimal {
	change := p.AmountPaid.Sub(total)
	if change.IsNegative() {
		return decimal.Zero
	}
	return change
}

// Sale is an immutable finalized transaction.
type Sale struct {
	ID            string                    `json:"id"`
	ReceiptNumber string                    `json:"receiptNumber"`
	Items         []cart.Line               `json:"items"`
	Bonuses       []cart.Line               `json:"bonuses"`
	Subtotal      decimal.Decimal           `json:"subtotal"`
	TotalDiscount decimal.Decimal           `json:"totalDiscount"`
	Total         decimal.Decimal           `json:"total"`
	PaymentMethod PaymentMethod             `json:"paymentMethod"`
	AmountPaid    decimal.Decimal           `json:"amountPaid"`
	Change        decimal.Decimal           `json:"change"`
	CreatedAt     time.Time                 `json:"createdAt"`
	SoldBy        string                    `json:"soldBy"`
	SoldByID      string                    `json:"soldById"`
	CustomerID    string                    `json:"customerId,omitempty"`
	CustomerName  string                    `json:"customerName,omitempty"`
	Customer      *catalog.CustomerSnapshot `json:"customer,omitempty"`
	Origin        Origin                    `json:"origin"`
	OriginID      string                    `json:"originId,omitempty"`
	PreSaleNumber string                    `json:"preSaleNumber,omitempty"`
	CreditID      string                    `json:"creditId,omitempty"`
}

// Ref addresses the sale document.
func Ref(id string) docstore.Ref {
	return docstore.Doc(Collection, id)
}

// SetCustomer copies the customer snapshot and its flat fields.
func (s *Sale) SetCustomer(c *catalog.CustomerSnapshot) {
	if c == nil {
		return
	}
	cp := *c
	s.Customer = &cp
	s.CustomerID = c.ID
	s.CustomerName = c.Name
}

// MovementType classifies inventory movements.
type MovementType string

// MovementBonusOut records stock given away as a bonus.
const MovementBonusOut MovementType = "BONUS_OUT"

// Movement is a write-once inventory audit record.
type Movement struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"productId"`
	ProductName    string          `json:"productName"`
	Quantity       decimal.Decimal `json:"quantity"`
	Type           MovementType    `json:"type"`
	Reason         string          `json:"reason"`
	Cost           decimal.Decimal `json:"cost"`
	TotalCost      decimal.Decimal `json:"totalCost"`
	RelatedSaleID  string          `json:"relatedSaleId"`
	RelatedReceipt string          `json:"relatedReceipt"`
	User           string          `json:"user"`
	UserID         string          `json:"userId"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// MovementRef addresses a movement document.
func MovementRef(id string) docstore.Ref {
	return docstore.Doc(MovementsCollection, id)
}

// CreditStatus tracks a receivable.
type CreditStatus string

// CreditOpen is an unpaid receivable.
const CreditOpen CreditStatus = "open"

// Credit is a receivable opened when a sale is under-paid.
type Credit struct {
	ID            string          `json:"id"`
	SaleID        string          `json:"saleId"`
	ReceiptNumber string          `json:"receiptNumber"`
	CustomerID    string          `json:"customerId"`
	CustomerName  string          `json:"customerName"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	Status        CreditStatus    `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	CreatedBy     string          `json:"createdBy"`
}

// CreditRef addresses a credit document.
func CreditRef(id string) docstore.Ref {
	return docstore.Doc(CreditsCollection, id)
}

// Summary is the event payload emitted for every finalized sale.
type Summary struct {
	SaleID        string          `json:"saleId"`
	ReceiptNumber string          `json:"receiptNumber"`
	Origin        Origin          `json:"origin"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Total         decimal.Decimal `json:"total"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	CreatedAt     time.Time       `json:"createdAt"`
	Items         []SummaryItem   `json:"items"`
	BonusUnits    decimal.Decimal `json:"bonusUnits"`
}

// SummaryItem is a sold product quantity.
type SummaryItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    decimal.Decimal `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// Summarize builds the event payload for s.
func (s Sale) Summarize() Summary {
	out := Summary{
		SaleID:        s.ID,
		ReceiptNumber: s.ReceiptNumber,
		Origin:        s.Origin,
		PaymentMethod: s.PaymentMethod,
		Total:         s.Total,
		TotalDiscount: s.TotalDiscount,
		CreatedAt:     s.CreatedAt,
		Items:         make([]SummaryItem, 0, len(s.Items)),
		BonusUnits:    decimal.Zero,
	}
	for _, line := range s.Items {
		out.Items = append(out.Items, SummaryItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			Revenue:     line.Total,
		})
	}
	for _, line := range s.Bonuses {
		out.BonusUnits = out.BonusUnits.Add(line.Quantity)
	}
	return out
}
