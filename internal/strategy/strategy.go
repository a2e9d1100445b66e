package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
	"perp_go/internal/marketdata"
)

// Strategies are pure: one bar in, zero or more signals out, no I/O.
// The set of variants is closed. A run stores an explicit tag chosen
// at creation time, and parameters are validated exactly once, there.

// Tag names a strategy variant.
type Tag string

const (
	TagMomentumBreakout Tag = "momentum_breakout"
	TagVolRevert        Tag = "vol_revert"
)

// View is the read-only slice of run state a strategy may consult.
type View struct {
	Capital decimal.Decimal
	Open    map[string]domain.Side // open position side per symbol
}

// Strategy turns a price bar into trade signals.
type Strategy interface {
	Tag() Tag
	Evaluate(bar marketdata.Candle, view View) []domain.Signal
}

// New builds a variant from its tag and its typed parameter struct.
// Unknown tags and mistyped parameters fail here, at run creation,
// never mid-tick.
func New(tag Tag, params any) (Strategy, error) {
	switch tag {
	case TagMomentumBreakout:
		p, ok := params.(MomentumParams)
		if !ok {
			return nil, fmt.Errorf("strategy %s: want MomentumParams, got %T", tag, params)
		}
		return NewMomentum(p)
	case TagVolRevert:
		p, ok := params.(VolRevertParams)
		if !ok {
			return nil, fmt.Errorf("strategy %s: want VolRevertParams, got %T", tag, params)
		}
		return NewVolRevert(p)
	default:
		return nil, fmt.Errorf("unknown strategy tag %q", tag)
	}
}
