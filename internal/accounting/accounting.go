package accounting

import (
	"time"

	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
)

// Capital moves only on realized events: a fee payment, a funding
// charge, or a position closing. Mark-to-market movement shows up in
// equity, never in capital. Everything here is pure arithmetic; the
// orchestrator decides when these helpers fire.

// ApplyFee deducts a paid fee from the run's capital.
func ApplyFee(r *domain.Run, fee decimal.Decimal) {
	r.Capital = r.Capital.Sub(fee)
}

// ApplyFunding applies one signed funding payment to the run's capital.
func ApplyFunding(r *domain.Run, amount decimal.Decimal) {
	r.Capital = r.Capital.Add(amount)
}

// ApplyClose credits a just-closed position's price P&L to capital.
// Fees were already deducted fill-by-fill, so the gross price term is
// RealizedPnL with the position's fees added back.
func ApplyClose(r *domain.Run, p *domain.Position) {
	r.Capital = r.Capital.Add(p.RealizedPnL.Add(p.Fees))
}

// RecomputeCapital derives capital from scratch for audit:
// starting − all fees paid + funding + gross price P&L of closed positions.
// The orchestrator checks the event-wise capital against this figure.
func RecomputeCapital(starting, totalFees, totalFunding decimal.Decimal, closed []*domain.Position) decimal.Decimal {
	capital := starting.Sub(totalFees).Add(totalFunding)
	for _, p := range closed {
		capital = capital.Add(p.RealizedPnL.Add(p.Fees))
	}
	return capital
}

// Snapshot rolls the run's account up at current mark prices. The result
// is derived reporting data, recomputed from scratch every tick and never
// treated as authoritative.
func Snapshot(r *domain.Run, open []*domain.Position, marks map[string]decimal.Decimal, at time.Time) domain.AccountSnapshot {
	marginUsed := decimal.Zero
	unrealized := decimal.Zero
	gross := decimal.Zero
	net := decimal.Zero

	for _, p := range open {
		marginUsed = marginUsed.Add(p.CostBasis)
		mark, ok := marks[p.Symbol]
		if !ok {
			mark = p.MarkPrice
		}
		unrealized = unrealized.Add(p.UnrealizedPnL(mark))
		notional := p.QtyOpen.Mul(mark)
		gross = gross.Add(notional)
		net = net.Add(notional.Mul(p.Side.Direction()))
	}

	cash := r.Capital.Sub(marginUsed)
	return domain.AccountSnapshot{
		RunID:         r.ID,
		At:            at,
		Equity:        cash.Add(marginUsed).Add(unrealized),
		Cash:          cash,
		MarginUsed:    marginUsed,
		UnrealizedPnL: unrealized,
		GrossExposure: gross,
		NetExposure:   net,
		OpenPositions: len(open),
	}
}
