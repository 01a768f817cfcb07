// Package amount holds the fixed-scale decimal arithmetic used wherever
// token amounts are compared. Stellar amounts carry 7 fractional digits
// (1 stroop = 0.0000001), so every comparison happens at that scale with
// exact decimal math, never binary floats.
package amount

import "github.com/shopspring/decimal"

// Scale is Stellar's native fractional precision.
const Scale = 7

// OneStroop is the smallest representable amount increment.
var OneStroop = decimal.New(1, -Scale)

var hundred = decimal.NewFromInt(100)

// Normalize formats any numeric string at exactly Scale fractional digits,
// rounding half-up. Unparseable input normalizes to zero.
func Normalize(value string) string {
	d, err := decimal.NewFromString(value)
	if err != nil {
		d = decimal.Zero
	}
	return d.Round(Scale).StringFixed(Scale)
}

// Compare compares two amount strings exactly at Scale, returning -1, 0 or 1.
// Unparseable input is treated as zero.
func Compare(a, b string) int {
	da, err := decimal.NewFromString(a)
	if err != nil {
		da = decimal.Zero
	}
	db, err := decimal.NewFromString(b)
	if err != nil {
		db = decimal.Zero
	}
	return da.Round(Scale).Cmp(db.Round(Scale))
}

// Tolerance returns the acceptable shortfall for an expected amount:
// max(expected * pct/100, minAbs). The percentage absorbs price-buffer edge
// rounding, the absolute floor absorbs ledger fee deduction.
func Tolerance(expected, pct, minAbs decimal.Decimal) decimal.Decimal {
	t := expected.Mul(pct).Div(hundred).Round(Scale)
	if t.LessThan(minAbs) {
		return minAbs
	}
	return t
}

// MinAcceptable is the matching threshold: a received amount settles the
// payment when it is at least expected minus tolerance. Overpayment is always
// accepted; underpayment only within tolerance.
func MinAcceptable(expected, pct, minAbs decimal.Decimal) decimal.Decimal {
	m := expected.Sub(Tolerance(expected, pct, minAbs)).Round(Scale)
	if m.IsNegative() {
		return decimal.Zero
	}
	return m
}
