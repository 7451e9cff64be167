package presale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/sequence"
)

var (
	// ErrNotFound is returned for unknown order ids.
	ErrNotFound = errors.New("pre-sale not found")
	// ErrEmptyOrder is returned when an order has no paid lines.
	ErrEmptyOrder = errors.New("pre-sale must contain at least one item")
	// ErrNotPending is returned when a paid order is edited or settled.
	ErrNotPending = errors.New("pre-sale is no longer pending")
	// ErrInvalidTransition is returned for backwards or unknown fulfillment moves.
	ErrInvalidTransition = errors.New("fulfillment status can only move forward")
	// ErrStale is returned when the order's cart was edited after it was read.
	ErrStale = errors.New("pre-sale changed since it was read")
)

// Filter narrows List, PickList and Watch.
type Filter struct {
	Status            Status
	FulfillmentStatus FulfillmentStatus
	RouteID           string
	Limit             int
}

func (f Filter) query() docstore.Query {
	q := docstore.Query{Collection: Collection, OrderBy: docstore.CreateTimeField, Desc: true, Limit: f.Limit}
	if f.Status != "" {
		q.Where = append(q.Where, docstore.Filter{Field: "status", Value: f.Status})
	}
	if f.FulfillmentStatus != "" {
		q.Where = append(q.Where, docstore.Filter{Field: "fulfillmentStatus", Value: f.FulfillmentStatus})
	}
	if routeID := strings.TrimSpace(f.RouteID); routeID != "" {
		q.Where = append(q.Where, docstore.Filter{Field: "routeId", Value: routeID})
	}
	return q
}

// Repository stores pre-sales and their audit trail.
type Repository struct {
	Store    docstore.Store
	Sequence sequence.Source
	Now      func() time.Time
	Logger   *zerolog.Logger
}

func (r *Repository) ready() error {
	if r == nil || r.Store == nil {
		return errors.New("presale repository not configured")
	}
	return nil
}

func (r *Repository) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

// Create allocates a pre-sale number and writes the order together with its
// CREATE history entry. A failed write may leave the number unused.
func (r *Repository) Create(ctx context.Context, snap cart.Snapshot, customer *catalog.Customer, routeID string, actor common.Actor) (Order, error) {
	if err := r.ready(); err != nil {
		return Order{}, err
	}
	if r.Sequence == nil {
		return Order{}, errors.New("presale sequence not configured")
	}
	if len(snap.Lines) == 0 {
		return Order{}, ErrEmptyOrder
	}
	number, err := r.Sequence.Next(ctx, sequence.Presales)
	if err != nil {
		return Order{}, err
	}

	now := r.now()
	order := Order{
		ID:                docstore.NewID(),
		PreSaleNumber:     number,
		Customer:          snap.Customer,
		Items:             snap.Lines,
		Bonuses:           snap.Bonuses,
		Subtotal:          snap.Subtotal,
		TotalDiscount:     snap.TotalDiscount,
		Total:             snap.Total,
		Status:            StatusPending,
		FulfillmentStatus: FulfillmentPending,
		RouteID:           strings.TrimSpace(routeID),
		CreatedAt:         now,
		CreatedBy:         actor.Email,
		CreatedByID:       actor.ID,
	}
	if customer != nil {
		cs := customer.Snapshot()
		order.Customer = &cs
		if order.RouteID == "" {
			order.RouteID = customer.RouteID
		}
	}
	order.hasRevision = true
	entry := NewHistoryEntry(order, ActionCreate, actor, now)
	err = r.Store.Batch().
		Create(Ref(order.ID), order).
		Create(HistoryRef(entry.ID), entry).
		Commit(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("create pre-sale %s: %w", number, err)
	}
	if obs.PresaleCreatedTotal != nil {
		obs.PresaleCreatedTotal.Inc()
	}
	if r.Logger != nil {
		r.Logger.Info().Str("presale_id", order.ID).Str("presale_number", number).Str("total", order.Total.String()).Msg("pre-sale created")
	}
	return order, nil
}

// Get loads an order.
func (r *Repository) Get(ctx context.Context, id string) (Order, error) {
	if err := r.ready(); err != nil {
		return Order{}, err
	}
	if strings.TrimSpace(id) == "" {
		return Order{}, ErrNotFound
	}
	snap, err := r.Store.Get(ctx, Ref(id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Order{}, fmt.Errorf("pre-sale %s: %w", id, ErrNotFound)
		}
		return Order{}, err
	}
	return decodeOrder(snap)
}

// List returns orders newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Order, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	snaps, err := r.Store.Query(ctx, f.query())
	if err != nil {
		return nil, fmt.Errorf("list pre-sales: %w", err)
	}
	return decodeOrders(snaps)
}

// Update replaces the cart of a pending order and records an EDIT entry.
// The pending check is repeated at commit so a concurrent settlement wins.
func (r *Repository) Update(ctx context.Context, id string, snap cart.Snapshot, customer *catalog.Customer, actor common.Actor) (Order, error) {
	order, err := r.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if order.Status != StatusPending {
		return Order{}, fmt.Errorf("pre-sale %s: %w", id, ErrNotPending)
	}
	if len(snap.Lines) == 0 {
		return Order{}, ErrEmptyOrder
	}

	now := r.now()
	order.Items = snap.Lines
	order.Bonuses = snap.Bonuses
	order.Subtotal = snap.Subtotal
	order.TotalDiscount = snap.TotalDiscount
	order.Total = snap.Total
	if customer != nil {
		cs := customer.Snapshot()
		order.Customer = &cs
	} else {
		order.Customer = snap.Customer
	}
	order.UpdatedAt = &now
	order.UpdatedBy = actor.Email
	guard := order.RevisionPrecondition()
	order.Revision++
	order.hasRevision = true

	entry := NewHistoryEntry(order, ActionEdit, actor, now)
	err = r.Store.Batch().
		Update(Ref(id), docstore.Fields{
			"customer":      order.Customer,
			"items":         order.Items,
			"bonuses":       order.Bonuses,
			"subtotal":      order.Subtotal,
			"totalDiscount": order.TotalDiscount,
			"total":         order.Total,
			"revision":      order.Revision,
			"updatedAt":     docstore.ServerTimestamp(),
			"updatedBy":     order.UpdatedBy,
		}, docstore.Precondition{Field: "status", Value: StatusPending}, guard).
		Create(HistoryRef(entry.ID), entry).
		Commit(ctx)
	if err != nil {
		if errors.Is(err, docstore.ErrPreconditionFailed) {
			return Order{}, ConflictCause(ctx, r.Store, id)
		}
		return Order{}, fmt.Errorf("update pre-sale %s: %w", id, err)
	}
	return order, nil
}

// ConflictCause explains a failed pending/revision precondition on order id
// by reading it again: ErrNotPending once it was settled, ErrStale otherwise.
func ConflictCause(ctx context.Context, store docstore.Store, id string) error {
	snap, err := store.Get(ctx, Ref(id))
	if err != nil {
		return fmt.Errorf("pre-sale %s: %w", id, err)
	}
	current, err := decodeOrder(snap)
	if err != nil {
		return err
	}
	if current.Status != StatusPending {
		return fmt.Errorf("pre-sale %s is %s: %w", id, current.Status, ErrNotPending)
	}
	return fmt.Errorf("pre-sale %s at revision %d: %w", id, current.Revision, ErrStale)
}

// AdvanceFulfillment moves the warehouse stage forward. Concurrent moves from
// the same stage are resolved at commit; the loser gets ErrInvalidTransition.
func (r *Repository) AdvanceFulfillment(ctx context.Context, id string, to FulfillmentStatus, actor common.Actor) (Order, error) {
	order, err := r.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	from := order.FulfillmentStatus
	if !CanAdvance(from, to) {
		return Order{}, fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	now := r.now()
	order.FulfillmentStatus = to
	order.UpdatedAt = &now
	order.UpdatedBy = actor.Email

	entry := NewHistoryEntry(order, ActionFulfillment, actor, now)
	entry.From, entry.To = string(from), string(to)
	err = r.Store.Batch().
		Update(Ref(id), docstore.Fields{
			"fulfillmentStatus": to,
			"updatedAt":         docstore.ServerTimestamp(),
			"updatedBy":         actor.Email,
		}, docstore.Precondition{Field: "fulfillmentStatus", Value: order.storedFulfillment()}).
		Create(HistoryRef(entry.ID), entry).
		Commit(ctx)
	if err != nil {
		if errors.Is(err, docstore.ErrPreconditionFailed) {
			return Order{}, fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
		}
		return Order{}, fmt.Errorf("advance pre-sale %s: %w", id, err)
	}
	return order, nil
}

// storedFulfillment is the stage as it was read from the document; orders
// written before stages existed carry no field at all.
func (o Order) storedFulfillment() any {
	if o.rawFulfillment == "" {
		return nil
	}
	return o.rawFulfillment
}

// History returns the audit trail of an order, oldest first.
func (r *Repository) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	snaps, err := r.Store.Query(ctx, docstore.Query{
		Collection: HistoryCollection,
		Where:      []docstore.Filter{{Field: "presaleId", Value: id}},
		OrderBy:    docstore.CreateTimeField,
	})
	if err != nil {
		return nil, fmt.Errorf("pre-sale history %s: %w", id, err)
	}
	out := make([]HistoryEntry, 0, len(snaps))
	for _, snap := range snaps {
		var entry HistoryEntry
		if err := snap.DataTo(&entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Watch streams the orders matching f after every change. The channel
// closes when ctx is done.
func (r *Repository) Watch(ctx context.Context, f Filter) (<-chan []Order, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	snaps, err := r.Store.Subscribe(ctx, f.query())
	if err != nil {
		return nil, fmt.Errorf("watch pre-sales: %w", err)
	}
	out := make(chan []Order, 1)
	go func() {
		defer close(out)
		for batch := range snaps {
			orders, err := decodeOrders(batch)
			if err != nil {
				if r.Logger != nil {
					r.Logger.Warn().Err(err).Msg("skipping undecodable pre-sale update")
				}
				continue
			}
			select {
			case out <- orders:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decodeOrder(snap docstore.Snapshot) (Order, error) {
	var order Order
	if err := snap.DataTo(&order); err != nil {
		return Order{}, err
	}
	var present struct {
		Revision *int64 `json:"revision"`
	}
	if err := snap.DataTo(&present); err != nil {
		return Order{}, err
	}
	order.ID = snap.ID
	order.hasRevision = present.Revision != nil
	order.rawFulfillment = order.FulfillmentStatus
	if order.FulfillmentStatus == "" {
		order.FulfillmentStatus = FulfillmentPending
	}
	return order, nil
}

func decodeOrders(snaps []docstore.Snapshot) ([]Order, error) {
	out := make([]Order, 0, len(snaps))
	for _, snap := range snaps {
		order, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}
