package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"perp_go/internal/app"
	"perp_go/internal/domain"
	"perp_go/internal/engine"
	"perp_go/internal/exchange"
	"perp_go/internal/execution"
	"perp_go/internal/infra"
	"perp_go/internal/marketdata"
	"perp_go/internal/storage"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// Local .env carries API credentials in dev; absence is fine.
	_ = godotenv.Load()

	resumeID := flag.String("run", "", "resume an existing run id instead of starting a new run")
	flag.Parse()

	// Pprof server, localhost only.
	go func() {
		slog.Info("pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("pprof server failed", slog.Any("error", err))
		}
	}()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	cfg := bootstrap.Config
	mode := execution.Mode(cfg.Trading.Mode)
	if mode == execution.ModeBacktest {
		slog.Error("backtests replay a stored tape; run the backtest binary instead")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, bootstrap, mode, *resumeID); err != nil {
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, bootstrap *app.Bootstrap, mode execution.Mode, resumeID string) error {
	cfg := bootstrap.Config
	store := bootstrap.Store

	var submitter *exchange.Submitter
	if mode == execution.ModeLive {
		client := exchange.NewRESTClient(
			cfg.Exchange.RestURL,
			cfg.Exchange.AccessKey,
			cfg.Exchange.SecretKey,
			cfg.Exchange.Passphrase,
		)
		breaker := infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("order-submit"))
		submitter = exchange.NewSubmitter(client, breaker, infra.GetOrderLimiter())
	}
	exec, err := execution.New(mode, submitter)
	if err != nil {
		return err
	}

	strat, err := app.BuildStrategy(cfg)
	if err != nil {
		return err
	}
	margins, err := app.BuildMargins(cfg)
	if err != nil {
		return err
	}

	var r *domain.Run
	if resumeID != "" {
		r, err = store.LoadRun(ctx, resumeID)
		if err != nil {
			return err
		}
	} else {
		r = app.BuildRun(cfg)
	}

	feed := marketdata.NewMemory()
	orch, err := engine.New(engine.Deps{
		Run:      r,
		Strategy: strat,
		Exec:     exec,
		Data:     feed,
		Margins:  margins,
		Funding:  app.BuildFunding(cfg),
		Repo:     store,
		Events:   store,
	})
	if err != nil {
		return err
	}

	if resumeID != "" {
		if err := hydrate(ctx, orch, store, resumeID); err != nil {
			return err
		}
	} else if err := store.SaveRun(ctx, r); err != nil {
		return err
	}

	if cfg.Exchange.WSURL != "" {
		markFeed := exchange.NewMarkFeed(cfg.Exchange.WSURL, r.Symbols, "1m", orch, feed)
		worker := exchange.NewStreamWorker(markFeed)
		worker.Start(ctx)
		defer worker.Stop()
	}

	if resumeID != "" {
		// Marks may already be flowing; note the gap if we were down.
		if err := orch.Recover(ctx); err != nil {
			return err
		}
	}

	slog.Info("engine operational",
		slog.String("run", r.ID),
		slog.String("mode", string(mode)),
		slog.String("capital", r.Capital.String()))

	ticker := time.NewTicker(time.Duration(cfg.Engine.TickIntervalMS) * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case now := <-ticker.C:
			if err := orch.Tick(ctx, now); err != nil {
				slog.Error("tick failed, halting", slog.Any("error", err))
				break loop
			}
			if r.Status == domain.RunStopped || r.Status == domain.RunError {
				break loop
			}
		}
	}

	checkpoint(bootstrap.Checkpoints, orch)
	slog.Info("shutdown complete",
		slog.String("run", r.ID),
		slog.String("status", string(r.Status)),
		slog.String("capital", r.Capital.String()))
	return nil
}

// hydrate rebuilds the in-memory book from the store's canonical rows.
func hydrate(ctx context.Context, orch *engine.Orchestrator, store *storage.Store, runID string) error {
	orders, err := store.OrdersForRun(ctx, runID)
	if err != nil {
		return err
	}
	fills, err := store.FillsForRun(ctx, runID)
	if err != nil {
		return err
	}
	positions, err := store.PositionsForRun(ctx, runID, "")
	if err != nil {
		return err
	}
	return orch.Hydrate(orders, fills, positions)
}

// checkpoint writes a point-in-time JSON snapshot next to the database
// so a run can be inspected without SQL, keeping the newest five.
func checkpoint(cm *storage.CheckpointManager, orch *engine.Orchestrator) {
	r := orch.Run()
	var open []domain.Position
	for _, p := range orch.Book().OpenPositions() {
		open = append(open, *p)
	}
	if err := cm.Save(storage.NewCheckpoint(r, open)); err != nil {
		slog.Warn("checkpoint save failed", slog.Any("error", err))
		return
	}
	if err := cm.Cleanup(r.ID, 5); err != nil {
		slog.Warn("checkpoint cleanup failed", slog.Any("error", err))
	}
}
