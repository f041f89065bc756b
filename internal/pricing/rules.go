package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rule is a quantity-tier discount for one product. A quantity qualifies when
// it is at least MinQuantity.
type Rule struct {
	ID                 int64           `json:"rule_id"`
	ProductID          int64           `json:"product_id"`
	MinQuantity        int64           `json:"min_quantity"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

// RuleSet is an immutable, validated snapshot of discount rules, safe for
// concurrent use. Per product, rules are ordered by MinQuantity then ID.
type RuleSet struct {
	byProduct map[int64][]Rule
	all       []Rule
}

// DefaultRules is the built-in rule table used when no other source is configured.
func DefaultRules() []Rule {
	return []Rule{
		{ID: 1, ProductID: 1, MinQuantity: 5, DiscountPercentage: decimal.NewFromInt(10)},
		{ID: 2, ProductID: 1, MinQuantity: 10, DiscountPercentage: decimal.NewFromInt(15)},
		{ID: 3, ProductID: 2, MinQuantity: 10, DiscountPercentage: decimal.NewFromInt(5)},
		{ID: 4, ProductID: 3, MinQuantity: 3, DiscountPercentage: decimal.NewFromInt(5)},
	}
}

// ParseRulesJSON decodes a JSON array of rules.
func ParseRulesJSON(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse pricing rules: %w", err)
	}
	return rules, nil
}

// NewRuleSet validates rules and builds a snapshot. Rules must have unique
// positive ids, positive product ids and thresholds, a discount within
// [0,100], and per product a discount that never drops as the threshold rises.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{byProduct: make(map[int64][]Rule)}
	seen := make(map[int64]struct{}, len(rules))
	var errs []error
	for _, r := range rules {
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("rule %d: duplicate rule_id", r.ID))
			continue
		}
		seen[r.ID] = struct{}{}
		if err := r.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		rs.byProduct[r.ProductID] = append(rs.byProduct[r.ProductID], r)
	}
	for productID, list := range rs.byProduct {
		sort.Slice(list, func(i, j int) bool {
			if list[i].MinQuantity != list[j].MinQuantity {
				return list[i].MinQuantity < list[j].MinQuantity
			}
			return list[i].ID < list[j].ID
		})
		if err := checkMonotonic(list); err != nil {
			errs = append(errs, fmt.Errorf("product %d: %w", productID, err))
		}
		rs.all = append(rs.all, list...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Slice(rs.all, func(i, j int) bool { return rs.all[i].ID < rs.all[j].ID })
	return rs, nil
}

func (r Rule) validate() error {
	switch {
	case r.ID <= 0:
		return fmt.Errorf("rule %d: rule_id must be positive", r.ID)
	case r.ProductID <= 0:
		return fmt.Errorf("rule %d: product_id must be positive", r.ID)
	case r.MinQuantity <= 0:
		return fmt.Errorf("rule %d: min_quantity must be positive", r.ID)
	case r.DiscountPercentage.IsNegative() || r.DiscountPercentage.GreaterThan(hundred):
		return fmt.Errorf("rule %d: discount_percentage %s outside [0,100]", r.ID, r.DiscountPercentage)
	}
	return nil
}

// checkMonotonic expects list sorted. Only the first rule of each threshold can
// ever be selected, so only those are compared.
func checkMonotonic(list []Rule) error {
	var prev *Rule
	for i := range list {
		r := &list[i]
		if prev != nil && r.MinQuantity == prev.MinQuantity {
			continue
		}
		if prev != nil && r.DiscountPercentage.LessThan(prev.DiscountPercentage) {
			return fmt.Errorf("rule %d (min %d, %s%%) discounts less than rule %d (min %d, %s%%)",
				r.ID, r.MinQuantity, r.DiscountPercentage, prev.ID, prev.MinQuantity, prev.DiscountPercentage)
		}
		prev = r
	}
	return nil
}

// RulesFor returns the rules of productID, or nil when it has none.
func (rs *RuleSet) RulesFor(productID int64) []Rule {
	if rs == nil {
		return nil
	}
	list := rs.byProduct[productID]
	if len(list) == 0 {
		return nil
	}
	out := make([]Rule, len(list))
	copy(out, list)
	return out
}

// All returns every rule ordered by rule id.
func (rs *RuleSet) All() []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, len(rs.all))
	copy(out, rs.all)
	return out
}

// Len reports the number of rules in the set.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.all)
}
