// Package presale persists pending orders ("pre-sales") taken in the field
// until they are settled at the counter.
package presale

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
)

// Collections holding pre-sale documents.
const (
	Collection        = "presales"
	HistoryCollection = "presale_history"
)

// Status is the commercial state of an order. Paid is terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// FulfillmentStatus tracks warehouse preparation independently of payment.
type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentPreparing  FulfillmentStatus = "preparing"
	FulfillmentReady      FulfillmentStatus = "ready_for_delivery"
	FulfillmentDispatched FulfillmentStatus = "dispatched"
)

// Order is a persisted pre-sale.
type Order struct {
	ID                string                    `json:"id"`
	PreSaleNumber     string                    `json:"preSaleNumber"`
	Customer          *catalog.CustomerSnapshot `json:"customer,omitempty"`
	Items             []cart.Line               `json:"items"`
	Bonuses           []cart.Line               `json:"bonuses"`
	Subtotal          decimal.Decimal           `json:"subtotal"`
	TotalDiscount     decimal.Decimal           `json:"totalDiscount"`
	Total             decimal.Decimal           `json:"total"`
	Status            Status                    `json:"status"`
	FulfillmentStatus FulfillmentStatus         `json:"fulfillmentStatus"`
	RouteID           string                    `json:"routeId,omitempty"`
	CreatedAt         time.Time                 `json:"createdAt"`
	CreatedBy         string                    `json:"createdBy"`
	CreatedByID       string                    `json:"createdById"`
	UpdatedAt         *time.Time                `json:"updatedAt,omitempty"`
	UpdatedBy         string                    `json:"updatedBy,omitempty"`
	PaidAt            *time.Time                `json:"paidAt,omitempty"`
	ConvertedToSaleID string                    `json:"convertedToSaleId,omitempty"`
	// Revision counts cart edits. Settlement commits only against the
	// revision it read.
	Revision int64 `json:"revision"`

	rawFulfillment FulfillmentStatus
	hasRevision    bool
}

// RevisionPrecondition holds while the order's cart is the one that was read.
// Orders stored before revisions existed match only while the field is absent.
func (o Order) RevisionPrecondition() docstore.Precondition {
	if !o.hasRevision {
		return docstore.Precondition{Field: "revision", Value: nil}
	}
	return docstore.Precondition{Field: "revision", Value: o.Revision}
}

// Ref addresses the order document.
func Ref(id string) docstore.Ref {
	return docstore.Doc(Collection, id)
}

// Action names an entry in an order's audit trail.
type Action string

const (
	ActionCreate      Action = "CREATE"
	ActionEdit        Action = "EDIT"
	ActionFulfillment Action = "FULFILLMENT"
	ActionPaid        Action = "PAID"
)

// HistoryEntry is one write-once audit record of an order.
type HistoryEntry struct {
	ID            string          `json:"id"`
	PresaleID     string          `json:"presaleId"`
	PreSaleNumber string          `json:"preSaleNumber"`
	Action        Action          `json:"action"`
	ActorID       string          `json:"actorId"`
	ActorEmail    string          `json:"actorEmail"`
	At            time.Time       `json:"at"`
	Total         decimal.Decimal `json:"total"`
	From          string          `json:"from,omitempty"`
	To            string          `json:"to,omitempty"`
	SaleID        string          `json:"saleId,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// NewHistoryEntry stamps an audit entry for order.
func NewHistoryEntry(order Order, action Action, actor common.Actor, at time.Time) HistoryEntry {
	return HistoryEntry{
		ID:            docstore.NewID(),
		PresaleID:     order.ID,
		PreSaleNumber: order.PreSaleNumber,
		Action:        action,
		ActorID:       actor.ID,
		ActorEmail:    actor.Email,
		At:            at.UTC(),
		Total:         order.Total,
	}
}

// HistoryRef addresses an audit entry.
func HistoryRef(id string) docstore.Ref {
	return docstore.Doc(HistoryCollection, id)
}

var fulfillmentRank = map[FulfillmentStatus]int{
	FulfillmentPending:    0,
	FulfillmentPreparing:  1,
	FulfillmentReady:      2,
	FulfillmentDispatched: 3,
}

// ParseFulfillment validates a fulfillment stage name.
func ParseFulfillment(s string) (FulfillmentStatus, bool) {
	status := FulfillmentStatus(s)
	_, ok := fulfillmentRank[status]
	return status, ok
}

// CanAdvance reports whether from -> to moves the order strictly forward.
func CanAdvance(from, to FulfillmentStatus) bool {
	if from == "" {
		from = FulfillmentPending
	}
	fromRank, ok := fulfillmentRank[from]
	if !ok {
		return false
	}
	toRank, ok := fulfillmentRank[to]
	return ok && toRank > fromRank
}
