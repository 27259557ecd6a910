// Package money holds the fixed-point helpers used for every monetary value.
// Amounts are shopspring decimals kept at two fractional digits and serialized
// as plain JSON numbers.
package money

import (
	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits exposed at the API boundary.
const Places = 2

var (
	Zero    = decimal.Zero
	Hundred = decimal.NewFromInt(100)
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Round rounds half away from zero to Places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Exact reports whether d has no more than Places fractional digits, i.e.
// rounding would not change it.
func Exact(d decimal.Decimal) bool {
	return d.Equal(Round(d))
}

// FromFloat is a convenience for tests and seed data.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// Percent returns pct percent of d, unrounded.
func Percent(d, pct decimal.Decimal) decimal.Decimal {
	return d.Mul(pct).Div(Hundred)
}

// ValidPercent reports whether pct lies in [0, 100].
func ValidPercent(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(Hundred)
}

func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
