package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"perp_go/backtest"
	"perp_go/internal/app"
	"perp_go/internal/engine"
	"perp_go/internal/execution"
	"perp_go/internal/marketdata"
)

func main() {
	_ = godotenv.Load()

	from := flag.String("from", "", "replay window start, RFC3339 (required)")
	to := flag.String("to", "", "replay window end, RFC3339 (default: now)")
	timeframe := flag.String("timeframe", "1m", "candle timeframe to replay")
	flag.Parse()

	if err := run(*from, *to, *timeframe); err != nil {
		slog.Error("backtest failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(fromArg, toArg, timeframe string) error {
	window, err := parseWindow(fromArg, toArg)
	if err != nil {
		return err
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		return err
	}
	defer bootstrap.Close()

	cfg := bootstrap.Config
	store := bootstrap.Store
	ctx := context.Background()

	strat, err := app.BuildStrategy(cfg)
	if err != nil {
		return err
	}
	margins, err := app.BuildMargins(cfg)
	if err != nil {
		return err
	}

	r := app.BuildRun(cfg)
	feed := marketdata.NewMemory()
	orch, err := engine.New(engine.Deps{
		Run:       r,
		Strategy:  strat,
		Exec:      execution.NewSim(),
		Data:      feed,
		Margins:   margins,
		Funding:   app.BuildFunding(cfg),
		Repo:      store,
		Events:    store,
		Timeframe: timeframe,
	})
	if err != nil {
		return err
	}
	if err := store.SaveRun(ctx, r); err != nil {
		return err
	}

	replayer := backtest.NewReplayer(store)
	if err := replayer.Run(ctx, orch, feed, timeframe, window.from, window.to); err != nil {
		return err
	}

	pnl := r.Capital.Sub(r.StartingCapital)
	slog.Info("backtest result",
		slog.String("run", r.ID),
		slog.String("status", string(r.Status)),
		slog.String("starting_capital", r.StartingCapital.String()),
		slog.String("final_capital", r.Capital.String()),
		slog.String("pnl", pnl.String()))
	return nil
}

type replayWindow struct {
	from, to time.Time
}

func parseWindow(fromArg, toArg string) (replayWindow, error) {
	if fromArg == "" {
		return replayWindow{}, fmt.Errorf("-from is required (RFC3339, e.g. 2024-05-01T00:00:00Z)")
	}
	from, err := time.Parse(time.RFC3339, fromArg)
	if err != nil {
		return replayWindow{}, fmt.Errorf("parsing -from: %w", err)
	}

	to := time.Now().UTC()
	if toArg != "" {
		to, err = time.Parse(time.RFC3339, toArg)
		if err != nil {
			return replayWindow{}, fmt.Errorf("parsing -to: %w", err)
		}
	}
	if !to.After(from) {
		return replayWindow{}, fmt.Errorf("-to must be after -from")
	}
	return replayWindow{from: from, to: to}, nil
}
