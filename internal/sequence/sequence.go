// Package sequence allocates gap-free, zero-padded document numbers such as
// receipt and pre-sale numbers.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/obs"
)

// Counter names.
const (
	Sales    = "sales"
	Presales = "presales"
)

// CountersCollection holds one document per counter.
const CountersCollection = "counters"

// DefaultWidth is the zero-padded width of allocated numbers.
const DefaultWidth = 6

// ErrAllocation is returned when a number could not be allocated.
var ErrAllocation = errors.New("sequence allocation failed")

// Source hands out the next number of a named counter.
type Source interface {
	Next(ctx context.Context, name string) (string, error)
}

type counterDoc struct {
	LastNumber int64     `json:"lastNumber"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Allocator keeps counters as documents and increments them in a store
// transaction, relying on its retry budget.
type Allocator struct {
	Store  docstore.Store
	Width  int
	Now    func() time.Time
	Logger *zerolog.Logger
}

var _ Source = (*Allocator)(nil)

// Next allocates the number following the counter's last one.
func (a *Allocator) Next(ctx context.Context, name string) (string, error) {
	if a == nil || a.Store == nil {
		return "", errors.New("sequence allocator not configured")
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty counter name", ErrAllocation)
	}
	ctx, span := otel.Tracer("sequence.Allocator").Start(ctx, "Allocator.Next")
	defer span.End()
	span.SetAttributes(attribute.String("sequence.name", name))

	ref := docstore.Doc(CountersCollection, name)
	var next int64
	err := a.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		var doc counterDoc
		snap, err := tx.Get(ctx, ref)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		}
		next = doc.LastNumber + 1
		return tx.Set(ref, counterDoc{LastNumber: next, UpdatedAt: a.now()})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		record(name, "error")
		if a.Logger != nil {
			a.Logger.Error().Err(err).Str("counter", name).Msg("sequence allocation failed")
		}
		return "", fmt.Errorf("%w: %s: %w", ErrAllocation, name, err)
	}
	record(name, "ok")
	number := Format(next, a.Width)
	span.SetAttributes(attribute.String("sequence.number", number))
	return number, nil
}

// Last returns the most recently allocated value of a counter, zero when the
// counter was never used.
func (a *Allocator) Last(ctx context.Context, name string) (int64, error) {
	if a == nil || a.Store == nil {
		return 0, errors.New("sequence allocator not configured")
	}
	snap, err := a.Store.Get(ctx, docstore.Doc(CountersCollection, name))
	if errors.Is(err, docstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var doc counterDoc
	if err := snap.DataTo(&doc); err != nil {
		return 0, err
	}
	return doc.LastNumber, nil
}

func (a *Allocator) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// Format zero-pads n to width digits. Larger numbers keep all their digits.
func Format(n int64, width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	return fmt.Sprintf("%0*d", width, n)
}

func record(name, result string) {
	if obs.SequenceAllocationsTotal != nil {
		obs.SequenceAllocationsTotal.WithLabelValues(name, result).Inc()
	}
}
