package sale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/sequence"
)

var (
	// ErrNotFound is returned for unknown sale ids.
	ErrNotFound = errors.New("sale not found")
	// ErrEmptySale is returned when a sale has no paid lines.
	ErrEmptySale = errors.New("sale must contain at least one item")
	// ErrCreditLimit is returned when the unpaid amount exceeds the customer's limit.
	ErrCreditLimit = errors.New("unpaid amount exceeds the customer's credit limit")
	// ErrCommitFailed is returned when the sale batch did not commit. Nothing
	// was written; the receipt number may have been consumed.
	ErrCommitFailed = errors.New("sale could not be committed")
)

// Service registers direct sales at the counter.
type Service struct {
	Store    docstore.Store
	Sequence sequence.Source
	Events   *events.Bus
	Now      func() time.Time
	Logger   *zerolog.Logger
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil || s.Sequence == nil {
		return errors.New("sale service not configured")
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// RegisterQuick finalizes a cart paid at the counter. An under-paid sale to a
// known customer opens a credit for the difference.
func (s *Service) RegisterQuick(ctx context.Context, snap cart.Snapshot, customer *catalog.Customer, payment Payment, actor common.Actor) (Sale, error) {
	if err := s.ready(); err != nil {
		return Sale{}, err
	}
	ctx, span := otel.Tracer("sale.Service").Start(ctx, "Service.RegisterQuick")
	defer span.End()

	result, err := s.registerQuick(ctx, snap, customer, payment, actor)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "quick sale failed")
	}
	if obs.QuickSaleTotal != nil {
		obs.QuickSaleTotal.WithLabelValues(outcome).Inc()
	}
	return result, err
}

func (s *Service) registerQuick(ctx context.Context, snap cart.Snapshot, customer *catalog.Customer, payment Payment, actor common.Actor) (Sale, error) {
	if len(snap.Lines) == 0 {
		return Sale{}, ErrEmptySale
	}
	if err := payment.Validate(snap.Total, customer != nil); err != nil {
		return Sale{}, err
	}
	unpaid := snap.Total.Sub(payment.AmountPaid)
	if unpaid.IsPositive() && customer.CreditLimit != nil && unpaid.GreaterThan(*customer.CreditLimit) {
		return Sale{}, fmt.Errorf("unpaid %s, limit %s: %w", unpaid, customer.CreditLimit, ErrCreditLimit)
	}

	receipt, err := s.Sequence.Next(ctx, sequence.Sales)
	if err != nil {
		return Sale{}, err
	}
	now := s.now()
	sale := Sale{
		ID:            docstore.NewID(),
		ReceiptNumber: receipt,
		Items:         snap.Lines,
		Bonuses:       snap.Bonuses,
		Subtotal:      snap.Subtotal,
		TotalDiscount: snap.TotalDiscount,
		Total:         snap.Total,
		PaymentMethod: payment.Method,
		AmountPaid:    payment.AmountPaid,
		Change:        payment.Change(snap.Total),
		CreatedAt:     now,
		SoldBy:        actor.Email,
		SoldByID:      actor.ID,
		Origin:        OriginQuick,
	}
	if customer != nil {
		cs := customer.Snapshot()
		sale.SetCustomer(&cs)
	} else {
		sale.SetCustomer(snap.Customer)
	}
	trace := otel.Tracer("sale.Service")
	_, span := trace.Start(ctx, "Service.stage")
	span.SetAttributes(attribute.String("sale.receipt", receipt), attribute.Int("sale.bonus_lines", len(sale.Bonuses)))
	defer span.End()

	movements, err := BonusMovements(ctx, s.Store, sale, actor, now)
	if err != nil {
		return Sale{}, err
	}
	var credit *Credit
	if unpaid.IsPositive() {
		credit = &Credit{
			ID:            docstore.NewID(),
			SaleID:        sale.ID,
			ReceiptNumber: receipt,
			CustomerID:    sale.CustomerID,
			CustomerName:  sale.CustomerName,
			Amount:        unpaid,
			Balance:       unpaid,
			Status:        CreditOpen,
			CreatedAt:     now,
			CreatedBy:     actor.Email,
		}
		sale.CreditID = credit.ID
	}
	ev, err := events.New(events.TopicSaleRegistered, sale.ID, sale.Summarize(), now)
	if err != nil {
		return Sale{}, err
	}

	batch := s.Store.Batch().Create(Ref(sale.ID), sale)
	batch = StageStock(batch, StockDeltas(sale.Items, sale.Bonuses))
	batch = StageMovements(batch, movements)
	if credit != nil {
		batch = batch.Create(CreditRef(credit.ID), *credit)
	}
	batch = events.Stage(batch, ev)
	if err := batch.Commit(ctx); err != nil {
		if s.Logger != nil {
			s.Logger.Error().Err(err).Str("receipt", receipt).Msg("quick sale commit failed")
		}
		return Sale{}, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	if s.Events != nil {
		if err := s.Events.Dispatch(ctx, ev); err != nil && s.Logger != nil {
			s.Logger.Warn().Err(err).Str("sale_id", sale.ID).Msg("sale event left in outbox")
		}
	}
	if s.Logger != nil {
		s.Logger.Info().Str("sale_id", sale.ID).Str("receipt", receipt).Str("total", sale.Total.String()).Bool("credit", credit != nil).Msg("quick sale registered")
	}
	return sale, nil
}

// Get loads a sale and its inventory movements.
func (s *Service) Get(ctx context.Context, id string) (Sale, []Movement, error) {
	if s == nil || s.Store == nil {
		return Sale{}, nil, errors.New("sale service not configured")
	}
	if strings.TrimSpace(id) == "" {
		return Sale{}, nil, ErrNotFound
	}
	snap, err := s.Store.Get(ctx, Ref(id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Sale{}, nil, fmt.Errorf("sale %s: %w", id, ErrNotFound)
		}
		return Sale{}, nil, err
	}
	var sale Sale
	if err := snap.DataTo(&sale); err != nil {
		return Sale{}, nil, err
	}
	sale.ID = snap.ID
	movements, err := s.Movements(ctx, id)
	if err != nil {
		return Sale{}, nil, err
	}
	return sale, movements, nil
}

// Movements lists the inventory movements written with a sale.
func (s *Service) Movements(ctx context.Context, saleID string) ([]Movement, error) {
	snaps, err := s.Store.Query(ctx, docstore.Query{
		Collection: MovementsCollection,
		Where:      []docstore.Filter{{Field: "relatedSaleId", Value: saleID}},
		OrderBy:    docstore.CreateTimeField,
	})
	if err != nil {
		return nil, fmt.Errorf("movements of %s: %w", saleID, err)
	}
	out := make([]Movement, 0, len(snaps))
	for _, snap := range snaps {
		var m Movement
		if err := snap.DataTo(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
