package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the orchestrator-level FSM:
// active <-> winding_down -> stopped, and any status -> error.
type RunStatus string

const (
	RunActive      RunStatus = "active"
	RunWindingDown RunStatus = "winding_down"
	RunStopped     RunStatus = "stopped"
	RunError       RunStatus = "error"
)

// Run is the unit of isolation: one strategy, one capital pool, one
// symbol universe. Nothing crosses run boundaries.
type Run struct {
	ID     string    `json:"id"`
	Status RunStatus `json:"status"`

	StartingCapital decimal.Decimal `json:"starting_capital"`
	Capital         decimal.Decimal `json:"capital"` // moves only on realized events

	Symbols  []string `json:"symbols"`
	Strategy string   `json:"strategy"` // explicit tag from the closed strategy set

	Leverage decimal.Decimal `json:"leverage"`
	FeeRate  decimal.Decimal `json:"fee_rate"`

	MaxPositions  int           `json:"max_positions"`
	MultiPosition bool          `json:"multi_position"` // allow several same-side positions per symbol
	AllowOpposing bool          `json:"allow_opposing"` // disable the overlap rule
	MaxHolding    time.Duration `json:"max_holding"`    // zero = no time expiry

	LastTickAt time.Time            `json:"last_tick_at"`
	Watermarks map[string]time.Time `json:"watermarks"` // last evaluated candle open, per symbol

	Error string `json:"error,omitempty"`
}

// CanEnter reports whether new entries may be executed.
func (r *Run) CanEnter() bool {
	return r.Status == RunActive
}

// CanExit reports whether exits may be executed.
func (r *Run) CanExit() bool {
	return r.Status == RunActive || r.Status == RunWindingDown
}

// Transition moves the run to a new status, enforcing the FSM.
// Error is reachable from anywhere; stopped and error are terminal.
func (r *Run) Transition(to RunStatus) error {
	if to == RunError {
		r.Status = RunError
		return nil
	}
	ok := false
	switch r.Status {
	case RunActive:
		ok = to == RunWindingDown || to == RunStopped
	case RunWindingDown:
		ok = to == RunActive || to == RunStopped
	}
	if !ok {
		return fmt.Errorf("run %s: illegal transition %s -> %s", r.ID, r.Status, to)
	}
	r.Status = to
	return nil
}

// Watermark returns the last evaluated candle open time for a symbol.
func (r *Run) Watermark(symbol string) time.Time {
	return r.Watermarks[symbol]
}

// AdvanceWatermark records that every candle up to openTime has been
// evaluated for the symbol. It never moves backwards.
func (r *Run) AdvanceWatermark(symbol string, openTime time.Time) {
	if r.Watermarks == nil {
		r.Watermarks = make(map[string]time.Time)
	}
	if openTime.After(r.Watermarks[symbol]) {
		r.Watermarks[symbol] = openTime
	}
}
