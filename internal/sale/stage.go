package sale

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

// StockDeltas sums the quantity leaving stock per product, paid and bonus
// lines alike.
func StockDeltas(lines ...[]cart.Line) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, group := range lines {
		for _, line := range group {
			if line.ProductID == "" || !line.Quantity.IsPositive() {
				continue
			}
			out[line.ProductID] = out[line.ProductID].Add(line.Quantity)
		}
	}
	return out
}

// StageStock adds one commutative stock decrement per product to b. Stock
// may go negative; there is no reservation.
func StageStock(b docstore.Batch, deltas map[string]decimal.Decimal) docstore.Batch {
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b = b.Update(docstore.Doc(catalog.ProductsCollection, id), docstore.Fields{
			"stock": docstore.Increment(deltas[id].Neg()),
		})
	}
	return b
}

// BonusMovements builds one BONUS_OUT movement per bonus line of s, with the
// product's current purchase price as cost snapshot.
func BonusMovements(ctx context.Context, store docstore.Store, s Sale, actor common.Actor, at time.Time) ([]Movement, error) {
	out := make([]Movement, 0, len(s.Bonuses))
	loaded := map[string]catalog.Product{}
	for _, line := range s.Bonuses {
		p, ok := loaded[line.ProductID]
		if !ok {
			var err error
			p, err = catalog.LoadProduct(ctx, store, line.ProductID)
			if err != nil {
				return nil, fmt.Errorf("bonus cost for %s: %w", line.ProductID, err)
			}
			loaded[line.ProductID] = p
		}
		cost, name := p.PurchasePrice, line.ProductName
		if name == "" {
			name = p.Name
		}
		out = append(out, Movement{
			ID:             docstore.NewID(),
			ProductID:      line.ProductID,
			ProductName:    name,
			Quantity:       line.Quantity,
			Type:           MovementBonusOut,
			Reason:         fmt.Sprintf("Bonus on sale %s (line %s)", s.ReceiptNumber, line.LinkedTo),
			Cost:           cost,
			TotalCost:      pricing.Round(cost.Mul(line.Quantity)),
			RelatedSaleID:  s.ID,
			RelatedReceipt: s.ReceiptNumber,
			User:           actor.Email,
			UserID:         actor.ID,
			CreatedAt:      at.UTC(),
		})
	}
	return out, nil
}

// StageMovements adds every movement to b.
func StageMovements(b docstore.Batch, movements []Movement) docstore.Batch {
	for _, m := range movements {
		b = b.Create(MovementRef(m.ID), m)
	}
	return b
}
