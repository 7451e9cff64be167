package cart

import (
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTestCart() *Cart {
	n := 0
	c := New()
	c.newID = func() string {
		n++
		return "l" + strconv.Itoa(n)
	}
	return c
}

func tiered() catalog.Product {
	return catalog.Product{
		ID:    "A",
		Name:  "Aceite",
		Price: dec("10"),
		WholesaleTiers: []catalog.Tier{
			{MinQuantity: dec("5"), UnitPrice: dec("9")},
			{MinQuantity: dec("10"), UnitPrice: dec("8")},
		},
	}
}

func withBonus() catalog.Product {
	return catalog.Product{
		ID:    "B",
		Name:  "Gaseosa",
		Price: dec("2"),
		Bonuses: []catalog.BonusRule{
			{Enabled: true, Threshold: dec("10"), FreeProductID: "C", FreeProductName: "Vaso", FreeQuantity: dec("2")},
		},
	}
}

func requireTotalsConsistent(t *testing.T, snap Snapshot) {
	t.Helper()
	require.True(t, snap.Total.Equal(snap.Subtotal.Sub(snap.TotalDiscount)), "total %s subtotal %s discount %s", snap.Total, snap.Subtotal, snap.TotalDiscount)
	sum := decimal.Zero
	for _, l := range snap.Lines {
		sum = sum.Add(l.Gross())
	}
	require.True(t, sum.Equal(snap.Subtotal))
}

func TestAddMergesAndReprices(t *testing.T) {
	c := newTestCart()
	snap, err := c.Add(tiered(), dec("4"))
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	require.True(t, snap.Lines[0].UnitPrice.Equal(dec("10")))

	snap, err = c.Add(tiered(), dec("8"))
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	line := snap.Lines[0]
	require.Equal(t, "l1", line.ID)
	require.True(t, line.Quantity.Equal(dec("12")))
	require.True(t, line.UnitPrice.Equal(dec("8")))
	require.True(t, line.Total.Equal(dec("96")))
	require.True(t, snap.Total.Equal(dec("96")))
	requireTotalsConsistent(t, snap)
}

func TestAddRejectsBadQuantities(t *testing.T) {
	c := newTestCart()
	_, err := c.Add(tiered(), dec("0"))
	require.ErrorIs(t, err, pricing.ErrInvalidQuantity)
	_, err = c.Add(tiered(), dec("1.5"))
	require.ErrorIs(t, err, pricing.ErrFractionalQuantity)

	weighed := tiered()
	weighed.Measure = catalog.MeasureWeight
	snap, err := c.Add(weighed, dec("1.5"))
	require.NoError(t, err)
	require.True(t, snap.Lines[0].Total.Equal(dec("15")))
}

func TestBonusLinesFollowPaidQuantity(t *testing.T) {
	c := newTestCart()
	snap, err := c.Add(withBonus(), dec("23"))
	require.NoError(t, err)
	require.Len(t, snap.Bonuses, 1)
	b := snap.Bonuses[0]
	require.Equal(t, "l1_bonus", b.ID)
	require.Equal(t, "l1", b.LinkedTo)
	require.Equal(t, "C", b.ProductID)
	require.True(t, b.IsBonus)
	require.True(t, b.Quantity.Equal(dec("4")))
	require.True(t, b.UnitPrice.IsZero())
	require.True(t, snap.Subtotal.Equal(dec("46")))

	snap, err = c.UpdateLine("l1", Changes{Quantity: ptr("9")})
	require.NoError(t, err)
	require.Empty(t, snap.Bonuses)

	snap, err = c.UpdateLine("l1", Changes{Quantity: ptr("30")})
	require.NoError(t, err)
	require.Len(t, snap.Bonuses, 1)
	require.True(t, snap.Bonuses[0].Quantity.Equal(dec("6")))

	_, err = c.UpdateLine("l1_bonus", Changes{Quantity: ptr("1")})
	require.ErrorIs(t, err, ErrBonusLine)
	_, err = c.RemoveLine("l1_bonus")
	require.ErrorIs(t, err, ErrBonusLine)

	snap, err = c.RemoveLine("l1")
	require.NoError(t, err)
	require.Empty(t, snap.Lines)
	require.Empty(t, snap.Bonuses)
	require.True(t, snap.Total.IsZero())
}

func TestBonusLineNamedFromCartProduct(t *testing.T) {
	p := withBonus()
	p.Bonuses[0].FreeProductID, p.Bonuses[0].FreeProductName = "A", ""

	c := newTestCart()
	snap, err := c.Add(p, dec("10"))
	require.NoError(t, err)
	require.Len(t, snap.Bonuses, 1)
	require.Empty(t, snap.Bonuses[0].ProductName)

	snap, err = c.Add(tiered(), dec("1"))
	require.NoError(t, err)
	require.Len(t, snap.Bonuses, 1)
	require.Equal(t, "A", snap.Bonuses[0].ProductID)
	require.Equal(t, "Aceite", snap.Bonuses[0].ProductName)
}

func TestUpdateLinePriceAndDiscounts(t *testing.T) {
	c := newTestCart()
	_, err := c.Add(tiered(), dec("5"))
	require.NoError(t, err)

	snap, err := c.UpdateLine("l1", Changes{UnitPrice: ptr("7.5")})
	require.NoError(t, err)
	require.True(t, snap.Lines[0].UnitPrice.Equal(dec("7.5")))
	require.True(t, snap.Lines[0].Total.Equal(dec("37.5")))

	// discount-only edits keep the manual price
	snap, err = c.UpdateLine("l1", Changes{Discount: ptr("2.5")})
	require.NoError(t, err)
	require.True(t, snap.Lines[0].UnitPrice.Equal(dec("7.5")))
	require.True(t, snap.Lines[0].Total.Equal(dec("35")))
	require.True(t, snap.TotalDiscount.Equal(dec("2.5")))
	requireTotalsConsistent(t, snap)

	// a quantity change re-resolves the price and keeps the absolute discount
	snap, err = c.UpdateLine("l1", Changes{Quantity: ptr("10")})
	require.NoError(t, err)
	require.True(t, snap.Lines[0].UnitPrice.Equal(dec("8")))
	require.True(t, snap.Lines[0].Total.Equal(dec("77.5")))

	snap, err = c.UpdateLine("l1", Changes{DiscountPercent: ptr("10")})
	require.NoError(t, err)
	require.True(t, snap.Lines[0].Discount.Equal(dec("8")))

	// percentage discounts follow repricing
	snap, err = c.UpdateLine("l1", Changes{Quantity: ptr("5")})
	require.NoError(t, err)
	require.True(t, snap.Lines[0].Discount.Equal(dec("4.5")))
	requireTotalsConsistent(t, snap)

	_, err = c.UpdateLine("l1", Changes{Discount: ptr("1000")})
	require.ErrorIs(t, err, ErrInvalidLineDiscount)
	_, err = c.UpdateLine("l1", Changes{UnitPrice: ptr("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitPrice)
	_, err = c.UpdateLine("missing", Changes{})
	require.ErrorIs(t, err, ErrLineNotFound)

	// failed edits leave the cart untouched
	require.True(t, c.Snapshot().Lines[0].Discount.Equal(dec("4.5")))
}

func TestSetCustomerRepricesLines(t *testing.T) {
	c := newTestCart()
	_, err := c.Add(tiered(), dec("5"))
	require.NoError(t, err)

	snap, err := c.SetCustomer(&catalog.Customer{ID: "c1", FirstName: "Ana", Discount: dec("10")})
	require.NoError(t, err)
	require.NotNil(t, snap.Customer)
	require.Equal(t, "Ana", snap.Customer.Name)
	require.True(t, snap.Lines[0].UnitPrice.Equal(dec("8.1")))

	_, err = c.SetCustomer(&catalog.Customer{ID: "c2", Discount: dec("100")})
	require.ErrorIs(t, err, pricing.ErrInvalidDiscount)
	require.True(t, c.Snapshot().Lines[0].UnitPrice.Equal(dec("8.1")))

	snap, err = c.SetCustomer(nil)
	require.NoError(t, err)
	require.Nil(t, snap.Customer)
	require.True(t, snap.Lines[0].UnitPrice.Equal(dec("9")))
}

func TestSnapshotsAreIndependent(t *testing.T) {
	c := newTestCart()
	first, err := c.Add(withBonus(), dec("10"))
	require.NoError(t, err)
	_, err = c.Add(tiered(), dec("1"))
	require.NoError(t, err)
	_, err = c.UpdateLine("l1", Changes{Quantity: ptr("20")})
	require.NoError(t, err)

	require.Len(t, first.Lines, 1)
	require.True(t, first.Lines[0].Quantity.Equal(dec("10")))
	require.True(t, first.Bonuses[0].Quantity.Equal(dec("2")))

	snap := c.Reset()
	require.Empty(t, snap.Lines)
	require.Empty(t, snap.Bonuses)
	require.Nil(t, snap.Customer)
}
