package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus follows NEW -> OPEN (first fill) -> CLOSED (flat again).
type PositionStatus string

const (
	PositionStatusNew    PositionStatus = "NEW"
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Position is the aggregated, run-owned view of one symbol's exposure.
//
// EntryVWAP, ExitVWAP, Fees and RealizedPnL are derived caches: they are
// written only by ledger.Recompute replaying the position's fills, never
// by direct assignment anywhere else.
type Position struct {
	ID     string         `json:"id"`
	RunID  string         `json:"run_id"`
	Symbol string         `json:"symbol"`
	Side   Side           `json:"side"`
	Status PositionStatus `json:"status"`

	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at,omitempty"`

	QtyOpen   decimal.Decimal `json:"qty_open"`
	QtyClosed decimal.Decimal `json:"qty_closed"`

	EntryVWAP   decimal.Decimal `json:"entry_vwap"` // derived
	ExitVWAP    decimal.Decimal `json:"exit_vwap"`  // derived
	Fees        decimal.Decimal `json:"fees"`       // derived
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // derived

	CostBasis decimal.Decimal `json:"cost_basis"` // margin posted at entry
	Leverage  decimal.Decimal `json:"leverage"`

	Funding       decimal.Decimal `json:"funding"` // accumulated funding payments
	NextFundingAt time.Time       `json:"next_funding_at"`

	MarkPrice   decimal.Decimal `json:"mark_price"`
	MaintMargin decimal.Decimal `json:"maint_margin"`

	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero = no holding limit
}

// IsOpen reports whether the position still has exposure.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// Notional returns open quantity × current mark price.
func (p *Position) Notional() decimal.Decimal {
	return p.QtyOpen.Mul(p.MarkPrice)
}

// UnrealizedPnL marks the open quantity to the given price.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	if !p.IsOpen() {
		return decimal.Zero
	}
	return mark.Sub(p.EntryVWAP).Mul(p.QtyOpen).Mul(p.Side.Direction())
}

// Expired reports whether the position passed its holding limit.
func (p *Position) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
