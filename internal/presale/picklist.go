package presale

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// PickItem is the warehouse quantity of one product across orders.
type PickItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Regular     decimal.Decimal `json:"regular"`
	Bonus       decimal.Decimal `json:"bonus"`
	Total       decimal.Decimal `json:"total"`
	Orders      int             `json:"orders"`
}

// PickList aggregates what the warehouse must prepare.
type PickList struct {
	Orders int        `json:"orders"`
	Items  []PickItem `json:"items"`
}

// BuildPickList sums paid and bonus quantities per product.
func BuildPickList(orders []Order) PickList {
	byProduct := map[string]*PickItem{}
	seen := map[string]map[string]struct{}{}
	add := func(orderID, productID, name string, qty decimal.Decimal, isBonus bool) {
		item, ok := byProduct[productID]
		if !ok {
			item = &PickItem{ProductID: productID, ProductName: name}
			byProduct[productID] = item
			seen[productID] = map[string]struct{}{}
		}
		if item.ProductName == "" {
			item.ProductName = name
		}
		if isBonus {
			item.Bonus = item.Bonus.Add(qty)
		} else {
			item.Regular = item.Regular.Add(qty)
		}
		item.Total = item.Regular.Add(item.Bonus)
		if _, counted := seen[productID][orderID]; !counted {
			seen[productID][orderID] = struct{}{}
			item.Orders++
		}
	}
	for _, order := range orders {
		for _, line := range order.Items {
			add(order.ID, line.ProductID, line.ProductName, line.Quantity, false)
		}
		for _, line := range order.Bonuses {
			add(order.ID, line.ProductID, line.ProductName, line.Quantity, true)
		}
	}
	items := make([]PickItem, 0, len(byProduct))
	for _, item := range byProduct {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ProductName != items[j].ProductName {
			return items[i].ProductName < items[j].ProductName
		}
		return items[i].ProductID < items[j].ProductID
	})
	return PickList{Orders: len(orders), Items: items}
}

// PickList aggregates the orders matching f, pending ones by default.
func (r *Repository) PickList(ctx context.Context, f Filter) (PickList, error) {
	if f.Status == "" {
		f.Status = StatusPending
	}
	orders, err := r.List(ctx, f)
	if err != nil {
		return PickList{}, err
	}
	return BuildPickList(orders), nil
}
