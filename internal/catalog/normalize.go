package catalog

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// NormalizeReport lists what Normalize rewrote.
type NormalizeReport struct {
	Notes []string
}

// Changed reports whether the product was modified.
func (r NormalizeReport) Changed() bool {
	return len(r.Notes) > 0
}

func (r *NormalizeReport) add(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Normalize folds legacy pricing and bonus shapes into the current ones and
// drops rules that can never apply. Legacy bonus rules grant the product
// itself.
func Normalize(p *Product) NormalizeReport {
	var report NormalizeReport
	if p == nil {
		return report
	}

	if p.BonusEnabled || p.BonusThreshold != nil || p.BonusQuantity != nil {
		if p.Bonus == nil && len(p.Bonuses) == 0 {
			p.Bonus = &BonusRule{
				Enabled:      p.BonusEnabled,
				Threshold:    derefDecimal(p.BonusThreshold),
				FreeQuantity: derefDecimal(p.BonusQuantity),
			}
			report.add("flat bonus fields folded into a rule")
		} else {
			report.add("flat bonus fields dropped, newer rule shape present")
		}
		p.BonusEnabled = false
		p.BonusThreshold = nil
		p.BonusQuantity = nil
	}

	if p.Bonus != nil {
		if len(p.Bonuses) == 0 {
			legacy := *p.Bonus
			if legacy.FreeProductID == "" {
				legacy.FreeProductID = p.ID
				legacy.FreeProductName = p.Name
			}
			p.Bonuses = []BonusRule{legacy}
			report.add("single bonus rule migrated to list")
		} else {
			report.add("single bonus rule dropped, list present")
		}
		p.Bonus = nil
	}

	if len(p.Bonuses) > 0 {
		kept := make([]BonusRule, 0, len(p.Bonuses))
		for i, rule := range p.Bonuses {
			if !rule.Valid() {
				report.add("bonus rule %d removed: threshold, quantity and free product are required", i)
				continue
			}
			kept = append(kept, rule)
		}
		if len(kept) > MaxBonusRules {
			report.add("bonus rules truncated to %d", MaxBonusRules)
			kept = kept[:MaxBonusRules]
		}
		if len(kept) == 0 {
			kept = nil
		}
		p.Bonuses = kept
	}

	if p.WholesaleThreshold != nil || p.WholesalePrice != nil {
		threshold := derefDecimal(p.WholesaleThreshold)
		price := derefDecimal(p.WholesalePrice)
		switch {
		case len(p.WholesaleTiers) > 0:
			report.add("legacy wholesale pair dropped, tier table present")
		case threshold.IsPositive() && price.IsPositive():
			p.WholesaleTiers = []Tier{{MinQuantity: threshold, UnitPrice: price}}
			report.add("legacy wholesale pair migrated to tier table")
		default:
			report.add("legacy wholesale pair removed: never applies")
		}
		p.WholesaleThreshold = nil
		p.WholesalePrice = nil
	}

	if len(p.WholesaleTiers) > 0 {
		tiers := make([]Tier, 0, len(p.WholesaleTiers))
		for _, tier := range p.WholesaleTiers {
			if !tier.MinQuantity.IsPositive() {
				report.add("tier with non-positive minimum quantity removed")
				continue
			}
			tiers = append(tiers, tier)
		}
		if !sort.SliceIsSorted(tiers, func(i, j int) bool { return tiers[i].MinQuantity.LessThan(tiers[j].MinQuantity) }) {
			sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinQuantity.LessThan(tiers[j].MinQuantity) })
			report.add("tiers sorted by minimum quantity")
		}
		if len(tiers) == 0 {
			tiers = nil
		}
		p.WholesaleTiers = tiers
	}
	return report
}

func derefDecimal(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
