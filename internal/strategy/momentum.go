package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
	"perp_go/internal/marketdata"
)

// MomentumParams configures the breakout variant.
type MomentumParams struct {
	ROCThreshold decimal.Decimal `yaml:"roc_threshold"` // enter when |ROC| crosses this
	Qty          decimal.Decimal `yaml:"qty"`           // contract quantity per entry
}

// Validate rejects unusable parameters.
func (p MomentumParams) Validate() error {
	if !p.ROCThreshold.IsPositive() {
		return fmt.Errorf("momentum: roc_threshold must be positive")
	}
	if !p.Qty.IsPositive() {
		return fmt.Errorf("momentum: qty must be positive")
	}
	return nil
}

// Momentum rides a rate-of-change breakout: long when ROC breaks up
// through the threshold, short when it breaks down, exit when the move
// turns against an open position.
type Momentum struct {
	params MomentumParams
}

// NewMomentum validates params and builds the variant.
func NewMomentum(p MomentumParams) (*Momentum, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Momentum{params: p}, nil
}

func (m *Momentum) Tag() Tag { return TagMomentumBreakout }

// Evaluate implements Strategy.
func (m *Momentum) Evaluate(bar marketdata.Candle, view View) []domain.Signal {
	var signals []domain.Signal
	held, hasPosition := view.Open[bar.Symbol]

	switch {
	case bar.ROC.Cmp(m.params.ROCThreshold) >= 0:
		if hasPosition && held == domain.SideShort {
			signals = append(signals, exit(bar, domain.SideShort, "momentum flipped up"))
		}
		if !hasPosition {
			signals = append(signals, entry(bar, domain.SideLong, m.params.Qty))
		}
	case bar.ROC.Cmp(m.params.ROCThreshold.Neg()) <= 0:
		if hasPosition && held == domain.SideLong {
			signals = append(signals, exit(bar, domain.SideLong, "momentum flipped down"))
		}
		if !hasPosition {
			signals = append(signals, entry(bar, domain.SideShort, m.params.Qty))
		}
	}
	return signals
}

func entry(bar marketdata.Candle, side domain.Side, qty decimal.Decimal) domain.Signal {
	return domain.Signal{
		Symbol: bar.Symbol,
		Side:   side,
		Kind:   domain.KindEntry,
		Qty:    qty,
		Price:  bar.Close,
	}
}

func exit(bar marketdata.Candle, side domain.Side, note string) domain.Signal {
	return domain.Signal{
		Symbol: bar.Symbol,
		Side:   side,
		Kind:   domain.KindExit,
		Price:  bar.Close,
		Note:   note,
	}
}
