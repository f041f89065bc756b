package pricing

import "github.com/shopspring/decimal"

// Select returns the best qualifying rule for quantity: the one with the
// largest MinQuantity not above quantity, lowest rule id on ties.
func (rs *RuleSet) Select(productID, quantity int64) (Rule, bool) {
	if rs == nil {
		return Rule{}, false
	}
	var (
		best  Rule
		found bool
	)
	for _, r := range rs.byProduct[productID] {
		if r.MinQuantity > quantity {
			break
		}
		if !found || r.MinQuantity > best.MinQuantity {
			best = r
			found = true
		}
	}
	return best, found
}

// Discount returns the discount percentage for quantity units of productID,
// zero when no rule qualifies.
func (rs *RuleSet) Discount(productID, quantity int64) decimal.Decimal {
	if r, ok := rs.Select(productID, quantity); ok {
		return r.DiscountPercentage
	}
	return decimal.Zero
}
