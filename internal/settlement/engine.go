// Package settlement converts pending pre-sales into sales in one atomic
// write: sale, order status, stock, bonus movements, history and outbox event.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/presale"
	"github.com/noah-isme/toko-pos/internal/sale"
	"github.com/noah-isme/toko-pos/internal/sequence"
)

var (
	// ErrNotPending is returned when the order was already settled, either
	// before the call or by a concurrent settlement that committed first.
	ErrNotPending = presale.ErrNotPending
	// ErrStaleOrder is returned when the order's cart was edited after the
	// caller read it. Nothing was written; reload the order and retry.
	ErrStaleOrder = presale.ErrStale
	// ErrCommitFailed is returned when the settlement batch did not commit.
	// Nothing was written; the receipt number may have been consumed.
	ErrCommitFailed = errors.New("settlement could not be committed")
)

// PaymentDetails is what the cashier collected for the order.
type PaymentDetails = sale.Payment

// ValidatePayment checks the method and that the amount covers total.
// Pre-sales are never settled on credit.
func ValidatePayment(p PaymentDetails, total decimal.Decimal) error {
	return p.Validate(total, false)
}

// Engine settles pre-sales.
type Engine struct {
	Store    docstore.Store
	Sequence sequence.Source
	Bus      *events.Bus
	Now      func() time.Time
	Logger   *zerolog.Logger
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Settle converts order into a sale and returns the sale id.
func (e *Engine) Settle(ctx context.Context, order presale.Order, payment PaymentDetails, actor common.Actor) (string, error) {
	if e == nil || e.Store == nil || e.Sequence == nil {
		return "", errors.New("settlement engine not configured")
	}
	ctx, span := otel.Tracer("settlement.Engine").Start(ctx, "Engine.Settle")
	defer span.End()
	span.SetAttributes(attribute.String("presale.id", order.ID), attribute.String("presale.number", order.PreSaleNumber))

	start := time.Now()
	saleID, err := e.settle(ctx, order, payment, actor)
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotPending):
		result = "not_pending"
	case errors.Is(err, ErrStaleOrder):
		result = "stale"
	case errors.Is(err, ErrCommitFailed):
		result = "commit_failed"
	default:
		result = "error"
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
	}
	if obs.SettlementTotal != nil {
		obs.SettlementTotal.WithLabelValues(result).Inc()
	}
	if obs.SettlementDuration != nil {
		obs.SettlementDuration.WithLabelValues(result).Observe(float64(time.Since(start).Milliseconds()))
	}
	return saleID, err
}

func (e *Engine) settle(ctx context.Context, order presale.Order, payment PaymentDetails, actor common.Actor) (string, error) {
	if order.Status != presale.StatusPending {
		return "", fmt.Errorf("pre-sale %s is %s: %w", order.ID, order.Status, ErrNotPending)
	}
	if len(order.Items) == 0 {
		return "", presale.ErrEmptyOrder
	}
	if err := ValidatePayment(payment, order.Total); err != nil {
		return "", err
	}

	receipt, err := e.Sequence.Next(ctx, sequence.Sales)
	if err != nil {
		return "", err
	}
	now := e.now()
	s := sale.Sale{
		ID:            docstore.NewID(),
		ReceiptNumber: receipt,
		Items:         order.Items,
		Bonuses:       order.Bonuses,
		Subtotal:      order.Subtotal,
		TotalDiscount: order.TotalDiscount,
		Total:         order.Total,
		PaymentMethod: payment.Method,
		AmountPaid:    payment.AmountPaid,
		Change:        payment.Change(order.Total),
		CreatedAt:     now,
		SoldBy:        actor.Email,
		SoldByID:      actor.ID,
		Origin:        sale.OriginPresale,
		OriginID:      order.ID,
		PreSaleNumber: order.PreSaleNumber,
	}
	s.SetCustomer(order.Customer)

	movements, err := sale.BonusMovements(ctx, e.Store, s, actor, now)
	if err != nil {
		return "", err
	}
	paid := order
	paid.Status = presale.StatusPaid
	paid.PaidAt = &now
	paid.ConvertedToSaleID = s.ID
	entry := presale.NewHistoryEntry(paid, presale.ActionPaid, actor, now)
	entry.SaleID = s.ID
	ev, err := events.New(events.TopicPresaleSettled, order.ID, s.Summarize(), now)
	if err != nil {
		return "", err
	}

	batch := e.Store.Batch().
		Create(sale.Ref(s.ID), s).
		Update(presale.Ref(order.ID), docstore.Fields{
			"status":            presale.StatusPaid,
			"paidAt":            docstore.ServerTimestamp(),
			"convertedToSaleId": s.ID,
			"updatedAt":         docstore.ServerTimestamp(),
			"updatedBy":         actor.Email,
		}, docstore.Precondition{Field: "status", Value: presale.StatusPending}, order.RevisionPrecondition())
	batch = sale.StageStock(batch, sale.StockDeltas(s.Items, s.Bonuses))
	batch = sale.StageMovements(batch, movements)
	batch = batch.Create(presale.HistoryRef(entry.ID), entry)
	batch = events.Stage(batch, ev)

	if err := batch.Commit(ctx); err != nil {
		if errors.Is(err, docstore.ErrPreconditionFailed) {
			return "", presale.ConflictCause(ctx, e.Store, order.ID)
		}
		if e.Logger != nil {
			e.Logger.Error().Err(err).Str("presale_id", order.ID).Str("receipt", receipt).Msg("settlement commit failed")
		}
		return "", fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	if e.Bus != nil {
		if err := e.Bus.Dispatch(ctx, ev); err != nil && e.Logger != nil {
			e.Logger.Warn().Err(err).Str("presale_id", order.ID).Msg("settlement event left in outbox")
		}
	}
	if e.Logger != nil {
		e.Logger.Info().
			Str("presale_id", order.ID).
			Str("presale_number", order.PreSaleNumber).
			Str("sale_id", s.ID).
			Str("receipt", receipt).
			Str("total", s.Total.String()).
			Msg("pre-sale settled")
	}
	return s.ID, nil
}
