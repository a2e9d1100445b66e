package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"perp_go/internal/domain"
	"perp_go/internal/funding"
	"perp_go/internal/infra"
	"perp_go/internal/margin"
	"perp_go/internal/strategy"
	"perp_go/pkg/quant"
)

// Assembly helpers turn a validated config into domain objects. Decimal
// fields were already parse-checked by Config.Validate, so MustAmount
// cannot panic here.

// BuildRun materializes a fresh run from the config.
func BuildRun(cfg *infra.Config) *domain.Run {
	capital := quant.MustAmount(cfg.Run.StartingCapital)
	return &domain.Run{
		ID:              uuid.NewString(),
		Status:          domain.RunActive,
		StartingCapital: capital,
		Capital:         capital,
		Symbols:         cfg.Run.Symbols,
		Strategy:        cfg.Strategy.Tag,
		Leverage:        quant.MustAmount(cfg.Run.Leverage),
		FeeRate:         quant.MustAmount(cfg.Run.FeeRate),
		MaxPositions:    cfg.Run.MaxPositions,
		MultiPosition:   cfg.Run.MultiPosition,
		AllowOpposing:   cfg.Run.AllowOpposing,
		MaxHolding:      time.Duration(cfg.Run.MaxHoldingMin) * time.Minute,
	}
}

// BuildStrategy constructs the configured strategy variant.
func BuildStrategy(cfg *infra.Config) (strategy.Strategy, error) {
	tag := strategy.Tag(cfg.Strategy.Tag)
	switch tag {
	case strategy.TagMomentumBreakout:
		return strategy.New(tag, strategy.MomentumParams{
			ROCThreshold: quant.MustAmount(cfg.Strategy.ROCThreshold),
			Qty:          quant.MustAmount(cfg.Strategy.Qty),
		})
	case strategy.TagVolRevert:
		return strategy.New(tag, strategy.VolRevertParams{
			ROCThreshold:  quant.MustAmount(cfg.Strategy.ROCThreshold),
			MinVolatility: quant.MustAmount(cfg.Strategy.MinVolatility),
			Qty:           quant.MustAmount(cfg.Strategy.Qty),
		})
	default:
		return nil, fmt.Errorf("unknown strategy tag %q", cfg.Strategy.Tag)
	}
}

// BuildMargins constructs the tier engine and checks that every traded
// symbol has a bracket table. A missing table would otherwise surface
// as a rejection on every single entry.
func BuildMargins(cfg *infra.Config) (*margin.Engine, error) {
	tables := make(map[string]margin.Table, len(cfg.Margin))
	for sym, tiers := range cfg.Margin {
		var table margin.Table
		for _, t := range tiers {
			tier := margin.Tier{
				InitialRate:     quant.MustAmount(t.InitialRate),
				MaintenanceRate: quant.MustAmount(t.MaintenanceRate),
			}
			if t.MaxNotional != "" {
				tier.MaxNotional = quant.MustAmount(t.MaxNotional)
			}
			table = append(table, tier)
		}
		tables[sym] = table
	}
	for _, sym := range cfg.Run.Symbols {
		if _, ok := tables[sym]; !ok {
			return nil, fmt.Errorf("no margin tiers configured for %s", sym)
		}
	}
	return margin.NewEngine(tables)
}

// BuildFunding constructs the funding engine, seeded with the
// configured per-symbol rates. A streamed rate overrides the seed.
func BuildFunding(cfg *infra.Config) *funding.Engine {
	eng := funding.NewEngine()
	for sym, rate := range cfg.Funding {
		eng.SetRate(sym, quant.MustAmount(rate))
	}
	return eng
}
