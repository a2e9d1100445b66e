package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one execution (real or simulated) against an Order.
// Fills are immutable once created; the ledger replays them to derive
// position VWAPs and realized P&L.
type Fill struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	OrderID    string          `json:"order_id"`
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Kind       OrderKind       `json:"kind"` // copied from the order for replay
	Qty        decimal.Decimal `json:"qty"`
	Price      decimal.Decimal `json:"price"`
	Fee        decimal.Decimal `json:"fee"`
	At         time.Time       `json:"at"`
}

// Notional returns qty × executed price.
func (f Fill) Notional() decimal.Decimal {
	return f.Qty.Mul(f.Price)
}
