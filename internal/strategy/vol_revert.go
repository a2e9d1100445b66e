package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
	"perp_go/internal/marketdata"
)

// VolRevertParams configures the volatility mean-reversion variant.
type VolRevertParams struct {
	ROCThreshold  decimal.Decimal `yaml:"roc_threshold"`  // fade moves beyond this
	MinVolatility decimal.Decimal `yaml:"min_volatility"` // only in elevated-vol regimes
	Qty           decimal.Decimal `yaml:"qty"`
}

// Validate rejects unusable parameters.
func (p VolRevertParams) Validate() error {
	if !p.ROCThreshold.IsPositive() {
		return fmt.Errorf("vol_revert: roc_threshold must be positive")
	}
	if p.MinVolatility.IsNegative() {
		return fmt.Errorf("vol_revert: min_volatility must not be negative")
	}
	if !p.Qty.IsPositive() {
		return fmt.Errorf("vol_revert: qty must be positive")
	}
	return nil
}

// VolRevert fades an overextended move when volatility is elevated:
// short a spike up, long a spike down, exit once the move has decayed
// back inside the threshold.
type VolRevert struct {
	params VolRevertParams
}

// NewVolRevert validates params and builds the variant.
func NewVolRevert(p VolRevertParams) (*VolRevert, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &VolRevert{params: p}, nil
}

func (v *VolRevert) Tag() Tag { return TagVolRevert }

// Evaluate implements Strategy.
func (v *VolRevert) Evaluate(bar marketdata.Candle, view View) []domain.Signal {
	held, hasPosition := view.Open[bar.Symbol]
	stretchedUp := bar.ROC.Cmp(v.params.ROCThreshold) >= 0
	stretchedDown := bar.ROC.Cmp(v.params.ROCThreshold.Neg()) <= 0

	// Decay back inside the band closes whatever we hold.
	if hasPosition && !stretchedUp && !stretchedDown {
		return []domain.Signal{exit(bar, held, "move decayed")}
	}
	if hasPosition || bar.Volatility.Cmp(v.params.MinVolatility) < 0 {
		return nil
	}

	switch {
	case stretchedUp:
		return []domain.Signal{entry(bar, domain.SideShort, v.params.Qty)}
	case stretchedDown:
		return []domain.Signal{entry(bar, domain.SideLong, v.params.Qty)}
	}
	return nil
}
