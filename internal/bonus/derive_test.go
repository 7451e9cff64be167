package bonus

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/catalog"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCount(t *testing.T) {
	rule := catalog.BonusRule{Enabled: true, Threshold: dec("10"), FreeProductID: "B", FreeQuantity: dec("2")}
	require.True(t, Count(rule, dec("23")).Equal(dec("4")))
	require.True(t, Count(rule, dec("9")).IsZero())
	require.True(t, Count(rule, dec("10")).Equal(dec("2")))

	disabled := rule
	disabled.Enabled = false
	require.True(t, Count(disabled, dec("100")).IsZero())

	zeroThreshold := rule
	zeroThreshold.Threshold = decimal.Zero
	require.True(t, Count(zeroThreshold, dec("100")).IsZero())
}

func TestDeriveMultipleRules(t *testing.T) {
	product := catalog.Product{
		ID:   "A",
		Name: "Cerveza",
		Bonuses: []catalog.BonusRule{
			{Enabled: true, Threshold: dec("12"), FreeProductID: "A", FreeQuantity: dec("1")},
			{Enabled: false, Threshold: dec("6"), FreeProductID: "C", FreeQuantity: dec("1")},
			{Enabled: true, Threshold: dec("24"), FreeProductID: "B", FreeProductName: "Vaso", FreeQuantity: dec("2")},
		},
	}
	grants := Derive([]Paid{{LineID: "l1", Product: product, Quantity: dec("30")}})
	require.Len(t, grants, 2)

	require.Equal(t, "l1_bonus", grants[0].ID)
	require.Equal(t, "l1", grants[0].LinkedTo)
	require.Equal(t, "A", grants[0].ProductID)
	require.Equal(t, "Cerveza", grants[0].ProductName)
	require.True(t, grants[0].Quantity.Equal(dec("2")))

	require.Equal(t, "l1_bonus_1", grants[1].ID)
	require.Equal(t, 2, grants[1].RuleIndex)
	require.Equal(t, "B", grants[1].ProductID)
	require.True(t, grants[1].Quantity.Equal(dec("2")))
}

func TestDeriveIsIdempotent(t *testing.T) {
	paid := []Paid{
		{LineID: "l1", Product: catalog.Product{ID: "A", Bonuses: []catalog.BonusRule{{Enabled: true, Threshold: dec("10"), FreeProductID: "B", FreeQuantity: dec("2")}}}, Quantity: dec("23")},
		{LineID: "l2", Product: catalog.Product{ID: "C"}, Quantity: dec("5")},
	}
	first := Derive(paid)
	second := Derive(paid)
	require.Equal(t, first, second)
	require.Len(t, first, 1)
	require.True(t, first[0].Quantity.Equal(dec("4")))
}

func TestDeriveHonoursRuleLimit(t *testing.T) {
	rules := make([]catalog.BonusRule, 0, 7)
	for i := 0; i < 7; i++ {
		rules = append(rules, catalog.BonusRule{Enabled: true, Threshold: dec("1"), FreeProductID: "X", FreeQuantity: dec("1")})
	}
	grants := Derive([]Paid{{LineID: "l1", Product: catalog.Product{ID: "A", Bonuses: rules}, Quantity: dec("1")}})
	require.Len(t, grants, catalog.MaxBonusRules)
}

func TestDeriveLegacyRuleGrantsSameProduct(t *testing.T) {
	product := catalog.Product{ID: "A", Name: "Agua", Bonuses: []catalog.BonusRule{{Enabled: true, Threshold: dec("5"), FreeQuantity: dec("1")}}}
	grants := Derive([]Paid{{LineID: "l1", Product: product, Quantity: dec("10")}})
	require.Len(t, grants, 1)
	require.Equal(t, "A", grants[0].ProductID)
	require.Equal(t, "Agua", grants[0].ProductName)
}
