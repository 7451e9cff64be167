package sale

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/docstore/memstore"
	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/sequence"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var cashier = common.Actor{ID: "u1", Email: "cashier@toko.test", Role: common.RoleUser}

func oil() catalog.Product {
	return catalog.Product{
		ID:            "A",
		Name:          "Aceite",
		Price:         dec("10"),
		PurchasePrice: dec("6"),
		Stock:         dec("100"),
		WholesaleTiers: []catalog.Tier{
			{MinQuantity: dec("5"), UnitPrice: dec("9")},
			{MinQuantity: dec("10"), UnitPrice: dec("8")},
		},
		Bonuses: []catalog.BonusRule{{Enabled: true, Threshold: dec("6"), FreeProductID: "B", FreeProductName: "Vaso", FreeQuantity: dec("1")}},
	}
}

func glass() catalog.Product {
	return catalog.Product{ID: "B", Name: "Vaso", Price: dec("3"), PurchasePrice: dec("2.5"), Stock: dec("50")}
}

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()
	for _, p := range []catalog.Product{oil(), glass()} {
		require.NoError(t, store.Set(ctx, docstore.Doc(catalog.ProductsCollection, p.ID), p))
	}
	return &Service{Store: store, Sequence: &sequence.Allocator{Store: store}}, store
}

func cartOf(t *testing.T, qty string, customer *catalog.Customer) cart.Snapshot {
	t.Helper()
	c := cart.New()
	if customer != nil {
		_, err := c.SetCustomer(customer)
		require.NoError(t, err)
	}
	snap, err := c.Add(oil(), dec(qty))
	require.NoError(t, err)
	return snap
}

func stockOf(t *testing.T, store docstore.Store, id string) decimal.Decimal {
	t.Helper()
	p, err := catalog.LoadProduct(context.Background(), store, id)
	require.NoError(t, err)
	return p.Stock
}

func TestRegisterQuickWritesSaleStockAndMovements(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	snap := cartOf(t, "12", nil)
	require.True(t, snap.Total.Equal(dec("96")))
	sale, err := svc.RegisterQuick(ctx, snap, nil, Payment{Method: PaymentCash, AmountPaid: dec("100")}, cashier)
	require.NoError(t, err)
	require.Equal(t, "000001", sale.ReceiptNumber)
	require.Equal(t, OriginQuick, sale.Origin)
	require.True(t, sale.Change.Equal(dec("4")))
	require.Empty(t, sale.CreditID)

	require.True(t, stockOf(t, store, "A").Equal(dec("88")))
	require.True(t, stockOf(t, store, "B").Equal(dec("48")))
	require.Equal(t, 1, store.Len(events.Collection))
	require.Equal(t, 0, store.Len(CreditsCollection))

	got, movements, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, sale.ReceiptNumber, got.ReceiptNumber)
	require.Len(t, movements, 1)
	require.Equal(t, MovementBonusOut, movements[0].Type)
	require.True(t, movements[0].Quantity.Equal(dec("2")))
	require.True(t, movements[0].Cost.Equal(dec("2.5")))
	require.True(t, movements[0].TotalCost.Equal(dec("5")))
	require.Equal(t, cashier.Email, movements[0].User)
}

func TestRegisterQuickCredit(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	limit := dec("50")
	customer := &catalog.Customer{ID: "c1", FirstName: "Ana", CreditLimit: &limit}

	sale, err := svc.RegisterQuick(ctx, cartOf(t, "12", customer), customer, Payment{Method: PaymentCash, AmountPaid: dec("60")}, cashier)
	require.NoError(t, err)
	require.NotEmpty(t, sale.CreditID)
	require.Equal(t, "c1", sale.CustomerID)
	require.True(t, sale.Change.IsZero())

	credit, err := store.Get(ctx, CreditRef(sale.CreditID))
	require.NoError(t, err)
	var c Credit
	require.NoError(t, credit.DataTo(&c))
	require.True(t, c.Amount.Equal(dec("36")))
	require.Equal(t, CreditOpen, c.Status)

	_, err = svc.RegisterQuick(ctx, cartOf(t, "12", customer), customer, Payment{Method: PaymentCash, AmountPaid: dec("40")}, cashier)
	require.ErrorIs(t, err, ErrCreditLimit)
}

func TestRegisterQuickRejectsBadPayment(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.RegisterQuick(ctx, cartOf(t, "2", nil), nil, Payment{Method: PaymentCash, AmountPaid: dec("5")}, cashier)
	require.ErrorIs(t, err, ErrInsufficientPayment)
	_, err = svc.RegisterQuick(ctx, cartOf(t, "2", nil), nil, Payment{Method: "barter", AmountPaid: dec("50")}, cashier)
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)
	_, err = svc.RegisterQuick(ctx, cart.Snapshot{}, nil, Payment{Method: PaymentCash}, cashier)
	require.ErrorIs(t, err, ErrEmptySale)

	require.Equal(t, 0, store.Len(Collection))
	require.True(t, stockOf(t, store, "A").Equal(dec("100")))
}

func TestRegisterQuickCommitFailureWritesNothing(t *testing.T) {
	svc, store := newService(t)
	store.BeforeCommit = func(kind memstore.CommitKind) error {
		if kind == memstore.CommitBatch {
			return errors.New("disk full")
		}
		return nil
	}
	_, err := svc.RegisterQuick(context.Background(), cartOf(t, "12", nil), nil, Payment{Method: PaymentCard, AmountPaid: dec("96")}, cashier)
	require.ErrorIs(t, err, ErrCommitFailed)
	require.Equal(t, 0, store.Len(Collection))
	require.Equal(t, 0, store.Len(MovementsCollection))
	require.Equal(t, 0, store.Len(events.Collection))
	require.True(t, stockOf(t, store, "A").Equal(dec("100")))
	require.True(t, stockOf(t, store, "B").Equal(dec("50")))
}

func TestRegisterQuickMissingBonusProduct(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Set(context.Background(), docstore.Doc(catalog.ProductsCollection, "A"), oil()))
	svc := &Service{Store: store, Sequence: &sequence.Allocator{Store: store}}

	_, err := svc.RegisterQuick(context.Background(), cartOf(t, "6", nil), nil, Payment{Method: PaymentCash, AmountPaid: dec("60")}, cashier)
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
	require.Equal(t, 0, store.Len(Collection))
}

func TestBonusMovementsFillMissingProductName(t *testing.T) {
	_, store := newService(t)
	s := Sale{
		ID:            "s1",
		ReceiptNumber: "000007",
		Bonuses: []cart.Line{
			{ID: "l1_bonus", ProductID: "B", Quantity: dec("2"), IsBonus: true, LinkedTo: "l1"},
			{ID: "l2_bonus", ProductID: "B", ProductName: "Vaso chico", Quantity: dec("1"), IsBonus: true, LinkedTo: "l2"},
		},
	}
	movements, err := BonusMovements(context.Background(), store, s, cashier, s.CreatedAt)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, "Vaso", movements[0].ProductName)
	require.Equal(t, "Vaso chico", movements[1].ProductName)
	require.True(t, movements[0].TotalCost.Equal(dec("5")))
}

func TestStockDeltasAggregatePerProduct(t *testing.T) {
	items := []cart.Line{{ProductID: "A", Quantity: dec("2")}, {ProductID: "B", Quantity: dec("1.5")}}
	bonuses := []cart.Line{{ProductID: "A", Quantity: dec("1")}, {ProductID: "", Quantity: dec("3")}}
	deltas := StockDeltas(items, bonuses)
	require.Len(t, deltas, 2)
	require.True(t, deltas["A"].Equal(dec("3")))
	require.True(t, deltas["B"].Equal(dec("1.5")))
}
