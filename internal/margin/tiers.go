package margin

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tiered margin brackets, static per symbol. The last tier of every
// table is unbounded; rates never decrease as notional grows.

// Tier is one margin bracket.
type Tier struct {
	// MaxNotional is the inclusive upper bound of the bracket. A zero or
	// negative value marks the unbounded terminal tier.
	MaxNotional     decimal.Decimal `yaml:"max_notional"`
	InitialRate     decimal.Decimal `yaml:"initial_rate"`
	MaintenanceRate decimal.Decimal `yaml:"maintenance_rate"`
}

// Unbounded reports whether the tier has no notional cap.
func (t Tier) Unbounded() bool {
	return !t.MaxNotional.IsPositive()
}

// Table is a symbol's ascending list of tiers.
type Table []Tier

// Validate checks the bracket structure: at least one tier, strictly
// increasing bounds, non-decreasing rates, and exactly one unbounded
// tier at the end.
func (tb Table) Validate() error {
	if len(tb) == 0 {
		return fmt.Errorf("margin: empty tier table")
	}
	for i, t := range tb {
		last := i == len(tb)-1
		if t.Unbounded() != last {
			return fmt.Errorf("margin: tier %d: only the final tier may be unbounded", i)
		}
		if !t.InitialRate.IsPositive() || !t.MaintenanceRate.IsPositive() {
			return fmt.Errorf("margin: tier %d: rates must be positive", i)
		}
		if i == 0 {
			continue
		}
		prev := tb[i-1]
		if !last && t.MaxNotional.Cmp(prev.MaxNotional) <= 0 {
			return fmt.Errorf("margin: tier %d: bounds must increase", i)
		}
		if t.InitialRate.Cmp(prev.InitialRate) < 0 || t.MaintenanceRate.Cmp(prev.MaintenanceRate) < 0 {
			return fmt.Errorf("margin: tier %d: rates must not decrease", i)
		}
	}
	return nil
}

// TierFor returns the first tier whose bound covers the notional. The
// boundary value itself belongs to the lower tier; one past it resolves
// to the next. Zero or negative notional resolves to the first tier.
func (tb Table) TierFor(notional decimal.Decimal) Tier {
	if !notional.IsPositive() {
		return tb[0]
	}
	for _, t := range tb {
		if t.Unbounded() || notional.Cmp(t.MaxNotional) <= 0 {
			return t
		}
	}
	return tb[len(tb)-1]
}

// Engine resolves margin requirements from per-symbol tier tables.
type Engine struct {
	tables map[string]Table
}

// NewEngine validates every table and builds the engine.
func NewEngine(tables map[string]Table) (*Engine, error) {
	for sym, tb := range tables {
		if err := tb.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", sym, err)
		}
	}
	return &Engine{tables: tables}, nil
}

// TierFor resolves the bracket for a symbol and notional.
func (e *Engine) TierFor(symbol string, notional decimal.Decimal) (Tier, error) {
	tb, ok := e.tables[symbol]
	if !ok {
		return Tier{}, fmt.Errorf("margin: no tier table for %s", symbol)
	}
	return tb.TierFor(notional), nil
}

// InitialMargin returns notional × the bracket's initial margin rate.
func (e *Engine) InitialMargin(symbol string, notional decimal.Decimal) (decimal.Decimal, error) {
	t, err := e.TierFor(symbol, notional)
	if err != nil {
		return decimal.Zero, err
	}
	return notional.Mul(t.InitialRate), nil
}

// MaxLeverage returns the leverage cap implied by the bracket's initial
// margin rate: 1 / initialRate.
func (e *Engine) MaxLeverage(symbol string, notional decimal.Decimal) (decimal.Decimal, error) {
	t, err := e.TierFor(symbol, notional)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(1).Div(t.InitialRate), nil
}

// MaintenanceMargin returns notional × the bracket's maintenance rate.
func (e *Engine) MaintenanceMargin(symbol string, notional decimal.Decimal) (decimal.Decimal, error) {
	t, err := e.TierFor(symbol, notional)
	if err != nil {
		return decimal.Zero, err
	}
	return notional.Mul(t.MaintenanceRate), nil
}
