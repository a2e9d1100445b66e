package quant

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// All monetary values inside the engine are decimal.Decimal.
// Rule #1: No float64 in the accounting path. Floats exist only at the
// exchange boundary, and even there we parse the wire string directly.

// ParseAmount converts a numeric string from an exchange payload into a
// Decimal. Empty and "null" payload fields resolve to zero rather than
// erroring, because exchanges omit optional fields freely.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" || s == "null" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// MustAmount is ParseAmount for static configuration values that are
// known-good at compile time (tier tables, default rates). Panics on
// malformed input.
func MustAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic("quant: bad amount literal: " + s)
	}
	return d
}

// Notional returns size × price.
func Notional(size, price decimal.Decimal) decimal.Decimal {
	return size.Mul(price)
}

// ParseTimeStampMS converts an exchange millisecond timestamp string to
// a time.Time in UTC.
func ParseTimeStampMS(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Bps converts basis points to a rate: 4 bps -> 0.0004.
func Bps(n int64) decimal.Decimal {
	return decimal.New(n, -4)
}
