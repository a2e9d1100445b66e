package liquidation

import (
	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
)

// Pure liquidation math over a position snapshot. No I/O, no mutation.

var one = decimal.NewFromInt(1)

// Price returns the mark price at which the position gets force-closed.
//
//	initialMargin = size × entry / leverage
//	long:  (available + realizedPnL + initialMargin) / (size × (1 − maintRate))
//	short: (available + realizedPnL + initialMargin) / (size × (1 + maintRate))
//
// A flat position (or a degenerate leverage) has no liquidation price;
// the entry price is returned as a finite sentinel instead of NaN/Inf.
func Price(p *domain.Position, available, maintRate decimal.Decimal) decimal.Decimal {
	size := p.QtyOpen
	if !size.IsPositive() || !p.Leverage.IsPositive() {
		return p.EntryVWAP
	}

	initialMargin := size.Mul(p.EntryVWAP).Div(p.Leverage)
	numerator := available.Add(p.RealizedPnL).Add(initialMargin)

	var denominator decimal.Decimal
	if p.Side == domain.SideLong {
		denominator = size.Mul(one.Sub(maintRate))
	} else {
		denominator = size.Mul(one.Add(maintRate))
	}
	if denominator.IsZero() {
		return p.EntryVWAP
	}
	return numerator.Div(denominator)
}

// IsLiquidatable reports whether available margin dropped below the
// position's maintenance requirement. The inequality is strict:
// exactly meeting maintenance is not liquidatable.
func IsLiquidatable(p *domain.Position, availableMargin decimal.Decimal) bool {
	return availableMargin.Cmp(p.MaintMargin) < 0
}
