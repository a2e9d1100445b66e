package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"perp_go/internal/domain"
	"perp_go/internal/engine"
	"perp_go/internal/marketdata"
	"perp_go/internal/storage"
)

// Replayer streams stored candles through the same orchestrator tick
// path a live run uses. Backtest is reality: the only difference is
// that the clock is the candle tape instead of the wall.
type Replayer struct {
	store *storage.Store
}

// NewReplayer creates a replayer over an existing candle database.
func NewReplayer(store *storage.Store) *Replayer {
	return &Replayer{store: store}
}

// Run replays every stored candle in [from, to) for the run's symbols,
// ticking the orchestrator once per distinct bar time. The provider
// handed to the orchestrator is filled incrementally so watermark
// semantics match live operation exactly.
func (r *Replayer) Run(ctx context.Context, orch *engine.Orchestrator, feed *marketdata.Memory, timeframe string, from, to time.Time) error {
	run := orch.Run()

	// Collect the tape, merged across symbols in time order.
	byTime := make(map[time.Time][]marketdata.Candle)
	var times []time.Time
	for _, sym := range run.Symbols {
		bars, err := r.store.CandlesBetween(ctx, sym, timeframe, from, to)
		if err != nil {
			return fmt.Errorf("backtest: loading candles for %s: %w", sym, err)
		}
		for _, c := range bars {
			if _, seen := byTime[c.OpenTime]; !seen {
				times = append(times, c.OpenTime)
			}
			byTime[c.OpenTime] = append(byTime[c.OpenTime], c)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	if len(times) == 0 {
		slog.Warn("Backtest tape is empty",
			slog.String("run", run.ID),
			slog.Time("from", from),
			slog.Time("to", to))
		return nil
	}

	slog.Info("Backtest starting",
		slog.String("run", run.ID),
		slog.Int("steps", len(times)),
		slog.Time("from", times[0]),
		slog.Time("to", times[len(times)-1]))

	for _, at := range times {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, c := range byTime[at] {
			feed.Add(c)
			orch.SetMark(c.Symbol, c.Close)
		}
		if err := orch.Tick(ctx, at); err != nil {
			return fmt.Errorf("backtest: tick at %s: %w", at, err)
		}
		if terminal(orch) {
			slog.Info("Backtest run reached terminal state",
				slog.String("run", run.ID),
				slog.String("status", string(run.Status)),
				slog.Time("at", at))
			break
		}
	}

	slog.Info("Backtest finished",
		slog.String("run", run.ID),
		slog.String("status", string(run.Status)),
		slog.String("capital", run.Capital.String()))
	return nil
}

func terminal(orch *engine.Orchestrator) bool {
	st := orch.Run().Status
	return st == domain.RunStopped || st == domain.RunError
}
