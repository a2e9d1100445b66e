package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is the per-run equity rollup. It is derived, not
// authoritative: the orchestrator recomputes it from scratch every tick.
type AccountSnapshot struct {
	RunID         string          `json:"run_id"`
	At            time.Time       `json:"at"`
	Equity        decimal.Decimal `json:"equity"`
	Cash          decimal.Decimal `json:"cash"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	GrossExposure decimal.Decimal `json:"gross_exposure"`
	NetExposure   decimal.Decimal `json:"net_exposure"`
	OpenPositions int             `json:"open_positions"`
}

// PriceSnapshot records the mark price a mutation was based on, for audit.
type PriceSnapshot struct {
	RunID   string          `json:"run_id"`
	Symbol  string          `json:"symbol"`
	At      time.Time       `json:"at"`
	Mark    decimal.Decimal `json:"mark"`
	Context string          `json:"context"` // e.g. "funding", "liquidation", "refresh"
}
