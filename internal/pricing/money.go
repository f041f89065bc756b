package pricing

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Monetary amounts are reported with two fraction digits, rounded half away
// from zero. Rounding happens only here.
const moneyPlaces = 2

var one = decimal.NewFromInt(1)

// RoundMoney rounds an amount for display.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

// discountFactor converts a percentage such as 15 into the multiplier 0.85.
func discountFactor(pct decimal.Decimal) decimal.Decimal {
	return one.Sub(pct.Shift(-2))
}

// lineSubtotal is price * quantity * (1 - pct/100), kept exact.
func lineSubtotal(price decimal.Decimal, qty int64, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(qty)).Mul(discountFactor(pct))
}

// FormatPercent renders a discount as "10.0%", always with a fractional part.
func FormatPercent(pct decimal.Decimal) string {
	if pct.IsInteger() {
		return pct.StringFixed(1) + "%"
	}
	return pct.String() + "%"
}

// jsonNumber emits d as a bare JSON number without going through float64.
func jsonNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}
