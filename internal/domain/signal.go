package domain

import "github.com/shopspring/decimal"

// Signal is a strategy's trade intent for one symbol, before risk checks.
type Signal struct {
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Kind   OrderKind       `json:"kind"`
	Qty    decimal.Decimal `json:"qty"`
	Price  decimal.Decimal `json:"price"`
	Note   string          `json:"note,omitempty"`
}

// Machine-readable rejection reasons. Every rejected signal carries
// exactly one of these so operators can inspect why nothing happened.
const (
	RejectWindingDown         = "entries_blocked_winding_down"
	RejectOpposingPosition    = "opposing_position_exists"
	RejectDuplicatePosition   = "position_exists_for_symbol"
	RejectMaxPositions        = "max_concurrent_positions_reached"
	RejectInsufficientCapital = "insufficient_capital"
	RejectLeverageTier        = "leverage_exceeds_tier_limit"
	RejectNoMarkPrice         = "no_mark_price_for_symbol"
)
