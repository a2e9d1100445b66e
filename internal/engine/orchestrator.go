package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"perp_go/internal/accounting"
	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/execution"
	"perp_go/internal/funding"
	"perp_go/internal/ledger"
	"perp_go/internal/liquidation"
	"perp_go/internal/marketdata"
	"perp_go/internal/strategy"
)

// Clock abstracts time so ticks can be driven deterministically in
// tests and backtests.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Repo is the durable store surface the orchestrator writes through.
// It is a dumb repository: no business rules live behind it.
type Repo interface {
	SaveRun(ctx context.Context, r *domain.Run) error
	SaveOrder(ctx context.Context, o *domain.Order) error
	SaveFill(ctx context.Context, f *domain.Fill) error
	SavePosition(ctx context.Context, p *domain.Position) error
	SaveAccountSnapshot(ctx context.Context, s *domain.AccountSnapshot) error
	SavePriceSnapshot(ctx context.Context, s *domain.PriceSnapshot) error
}

// Deps wires one run's collaborators.
type Deps struct {
	Run      *domain.Run
	Strategy strategy.Strategy
	Exec     execution.Execution
	Data     marketdata.Provider
	Margins  MarginResolver
	Funding  *funding.Engine
	Repo     Repo
	Events   event.Sink
	Clock    Clock

	Timeframe string // candle timeframe evaluated by the strategy
}

// Orchestrator drives one run: a single-threaded tick loop that
// refreshes positions, accrues funding, enforces risk limits, evaluates
// the strategy on unseen bars, and keeps the ledger and the store in
// sync. All per-run state is mutated only from Tick, so none of it
// needs locking; only the mark-price map takes concurrent writes.
type Orchestrator struct {
	run      *domain.Run
	book     *ledger.Book
	strategy strategy.Strategy
	exec     execution.Execution
	data     marketdata.Provider
	margins  MarginResolver
	funding  *funding.Engine
	repo     Repo
	events   event.Sink
	clock    Clock

	timeframe string

	markMu sync.RWMutex
	marks  map[string]decimal.Decimal

	busy     atomic.Bool // re-entrancy guard: a slow tick skips the next, never overlaps it
	stopReq  atomic.Bool
	windReq  atomic.Bool
	resumeRq atomic.Bool
}

// MarginResolver is the slice of the margin engine the orchestrator uses.
type MarginResolver interface {
	InitialMargin(symbol string, notional decimal.Decimal) (decimal.Decimal, error)
	MaintenanceMargin(symbol string, notional decimal.Decimal) (decimal.Decimal, error)
	MaxLeverage(symbol string, notional decimal.Decimal) (decimal.Decimal, error)
}

// New builds an orchestrator for one run.
func New(d Deps) (*Orchestrator, error) {
	if d.Run == nil {
		return nil, fmt.Errorf("engine: run is required")
	}
	if d.Strategy == nil || d.Exec == nil || d.Data == nil || d.Margins == nil {
		return nil, fmt.Errorf("engine: strategy, exec, data and margins are required")
	}
	if d.Funding == nil {
		d.Funding = funding.NewEngine()
	}
	if d.Events == nil {
		d.Events = event.NopSink{}
	}
	if d.Clock == nil {
		d.Clock = RealClock{}
	}
	if d.Timeframe == "" {
		d.Timeframe = "1m"
	}
	return &Orchestrator{
		run:       d.Run,
		book:      ledger.NewBook(),
		strategy:  d.Strategy,
		exec:      d.Exec,
		data:      d.Data,
		margins:   d.Margins,
		funding:   d.Funding,
		repo:      d.Repo,
		events:    d.Events,
		clock:     d.Clock,
		timeframe: d.Timeframe,
		marks:     make(map[string]decimal.Decimal),
	}, nil
}

// Run returns the orchestrated run (read by reporting code between ticks).
func (o *Orchestrator) Run() *domain.Run { return o.run }

// Book exposes the ledger for inspection.
func (o *Orchestrator) Book() *ledger.Book { return o.book }

// SetMark records the latest mark price for a symbol. Safe to call from
// a feed goroutine; the tick loop reads a copy.
func (o *Orchestrator) SetMark(symbol string, price decimal.Decimal) {
	o.markMu.Lock()
	o.marks[symbol] = price
	o.markMu.Unlock()
}

// SetFundingRate records the latest funding rate for a symbol.
func (o *Orchestrator) SetFundingRate(symbol string, rate decimal.Decimal) {
	o.funding.SetRate(symbol, rate)
}

func (o *Orchestrator) mark(symbol string) (decimal.Decimal, bool) {
	o.markMu.RLock()
	defer o.markMu.RUnlock()
	m, ok := o.marks[symbol]
	return m, ok && m.IsPositive()
}

// RequestStop asks for a full stop. Honored at the start of the next
// tick, never pre-empting work in progress.
func (o *Orchestrator) RequestStop() { o.stopReq.Store(true) }

// RequestWindDown asks the run to stop entering and drain its exits.
func (o *Orchestrator) RequestWindDown() { o.windReq.Store(true) }

// RequestResume asks a winding-down run to resume entries.
func (o *Orchestrator) RequestResume() { o.resumeRq.Store(true) }

// Hydrate rebuilds the in-memory book from stored records by replaying
// every fill through the same code path live fills take. Order and
// position statuses are re-derived, never trusted from the rows.
func (o *Orchestrator) Hydrate(orders []domain.Order, fills []domain.Fill, positions []domain.Position) error {
	for i := range positions {
		p := positions[i]
		p.Status = domain.PositionStatusNew
		if err := o.book.AddPosition(&p); err != nil {
			return err
		}
	}
	for i := range orders {
		or := orders[i]
		or.Status = domain.OrderStatusNew
		if err := o.book.AddOrder(&or); err != nil {
			return err
		}
	}
	for _, f := range fills {
		if err := o.book.ApplyFill(f); err != nil {
			return fmt.Errorf("engine: replaying fill %s: %w", f.ID, err)
		}
	}
	return nil
}

// Recover handles downtime on startup: a run whose last tick is more
// than 5 minutes stale gets its positions refreshed at current marks
// before normal ticking resumes, and the stale duration is logged as a
// system note.
func (o *Orchestrator) Recover(ctx context.Context) error {
	now := o.clock.Now()
	if o.run.LastTickAt.IsZero() {
		return nil
	}
	stale := now.Sub(o.run.LastTickAt)
	if stale <= 5*time.Minute {
		return nil
	}

	slog.Warn("DOWNTIME_RECOVERY",
		slog.String("run", o.run.ID),
		slog.Duration("stale", stale))

	if err := o.refreshPositions(ctx, now); err != nil {
		return err
	}
	o.emit(event.EvSystemNote, now, event.Note{
		Text: fmt.Sprintf("recovered after %s of downtime", stale.Round(time.Second)),
	})
	return nil
}

// Tick runs one full cycle for the run at the given time. It returns
// immediately when the previous tick is still in flight or when the run
// is already terminal.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) error {
	if !o.busy.CompareAndSwap(false, true) {
		slog.Warn("TICK_SKIPPED_BUSY", slog.String("run", o.run.ID))
		return nil
	}
	defer o.busy.Store(false)

	if o.run.Status == domain.RunStopped || o.run.Status == domain.RunError {
		return nil
	}

	o.applyOperatorRequests(now)
	if o.run.Status == domain.RunStopped {
		return o.persistRun(ctx)
	}

	if err := o.tick(ctx, now); err != nil {
		// Exhausted I/O surfaces as run error; ledger state is intact
		// because mutations commit only after their I/O succeeds.
		o.run.Error = err.Error()
		o.run.Transition(domain.RunError)
		o.persistRun(ctx)
		slog.Error("TICK_FAILED", slog.String("run", o.run.ID), slog.Any("error", err))
		return err
	}
	return nil
}

func (o *Orchestrator) tick(ctx context.Context, now time.Time) error {
	// (a) refresh marks, accrue funding, force exits for liquidated or
	// expired positions.
	if err := o.refreshPositions(ctx, now); err != nil {
		return err
	}

	// (b) audit capital against the from-scratch recomputation.
	o.auditCapital()

	// (c) evaluate the strategy on unseen bars.
	if err := o.evaluate(ctx, now); err != nil {
		return err
	}

	// (d) re-evaluate run-level safety after entries, so a runaway
	// strategy is stopped within the same evaluation that bred it.
	if _, err := o.enforceSafety(ctx, now); err != nil {
		return err
	}

	// (e) a draining run with nothing left is done.
	if o.run.Status == domain.RunWindingDown && o.book.OpenCount() == 0 {
		o.run.Transition(domain.RunStopped)
		slog.Info("RUN_DRAINED", slog.String("run", o.run.ID))
	}

	snap := accounting.Snapshot(o.run, o.book.OpenPositions(), o.currentMarks(), now)
	if o.repo != nil {
		if err := o.repo.SaveAccountSnapshot(ctx, &snap); err != nil {
			return fmt.Errorf("engine: saving account snapshot: %w", err)
		}
	}
	o.emit(event.EvAccountSnapshot, now, snap)

	o.run.LastTickAt = now
	return o.persistRun(ctx)
}

func (o *Orchestrator) applyOperatorRequests(now time.Time) {
	if o.stopReq.CompareAndSwap(true, false) {
		if err := o.run.Transition(domain.RunStopped); err == nil {
			slog.Info("RUN_STOPPED_BY_OPERATOR", slog.String("run", o.run.ID))
			o.emit(event.EvSystemNote, now, event.Note{Text: "stopped by operator"})
		}
		return
	}
	if o.windReq.CompareAndSwap(true, false) {
		if err := o.run.Transition(domain.RunWindingDown); err == nil {
			slog.Info("RUN_WINDING_DOWN", slog.String("run", o.run.ID))
		}
	}
	if o.resumeRq.CompareAndSwap(true, false) {
		if err := o.run.Transition(domain.RunActive); err == nil {
			slog.Info("RUN_RESUMED", slog.String("run", o.run.ID))
		}
	}
}

// refreshPositions marks every open position to the latest price,
// charges due funding, and force-closes liquidated or time-expired
// positions.
func (o *Orchestrator) refreshPositions(ctx context.Context, now time.Time) error {
	for _, p := range o.book.OpenPositions() {
		mark, ok := o.mark(p.Symbol)
		if !ok {
			continue // no price yet; the position keeps its last mark
		}
		p.MarkPrice = mark

		maint, err := o.margins.MaintenanceMargin(p.Symbol, p.Notional())
		if err != nil {
			return fmt.Errorf("engine: maintenance margin for %s: %w", p.Symbol, err)
		}
		p.MaintMargin = maint

		// Funding is charged per elapsed period, in order, at the rate
		// current right now.
		for _, pay := range o.funding.Accrue(p, mark, now) {
			accounting.ApplyFunding(o.run, pay.Amount)
			o.emit(event.EvFundingCharge, pay.At, pay)
			o.snapshotPrice(ctx, p.Symbol, mark, "funding", pay.At)
		}

		if err := o.persistPosition(ctx, p); err != nil {
			return err
		}
		o.emit(event.EvPositionMarked, now, p)

		switch {
		case liquidation.IsLiquidatable(p, o.availableMargin(p, mark)):
			slog.Warn("POSITION_LIQUIDATED",
				slog.String("run", o.run.ID),
				slog.String("position", p.ID),
				slog.String("mark", mark.String()))
			o.snapshotPrice(ctx, p.Symbol, mark, "liquidation", now)
			if err := o.forceExit(ctx, p, mark, "liquidated", now); err != nil {
				return err
			}
		case p.Expired(now):
			slog.Info("POSITION_EXPIRED",
				slog.String("run", o.run.ID),
				slog.String("position", p.ID))
			if err := o.forceExit(ctx, p, mark, "holding limit reached", now); err != nil {
				return err
			}
		}
	}
	return nil
}

// availableMargin is the margin actually backing a position right now:
// the posted cost basis, marked to market, plus accumulated funding.
func (o *Orchestrator) availableMargin(p *domain.Position, mark decimal.Decimal) decimal.Decimal {
	return p.CostBasis.Add(p.UnrealizedPnL(mark)).Add(p.Funding)
}

// auditCapital compares event-wise capital against the from-scratch
// recomputation and logs drift. The recomputed figure wins.
func (o *Orchestrator) auditCapital() {
	totalFees, totalFunding := decimal.Zero, decimal.Zero
	var closed []*domain.Position
	for _, p := range o.allPositions() {
		totalFunding = totalFunding.Add(p.Funding)
		totalFees = totalFees.Add(p.Fees)
		if p.Status == domain.PositionStatusClosed {
			closed = append(closed, p)
		}
	}
	recomputed := accounting.RecomputeCapital(o.run.StartingCapital, totalFees, totalFunding, closed)
	if !recomputed.Equal(o.run.Capital) {
		slog.Warn("CAPITAL_DRIFT",
			slog.String("run", o.run.ID),
			slog.String("tracked", o.run.Capital.String()),
			slog.String("recomputed", recomputed.String()))
		o.run.Capital = recomputed
	}
}

// enforceSafety applies the bankruptcy stop and the runaway guard.
// Returns true when the run was stopped.
func (o *Orchestrator) enforceSafety(ctx context.Context, now time.Time) (bool, error) {
	if o.run.Capital.IsNegative() {
		slog.Error("BANKRUPTCY_STOP",
			slog.String("run", o.run.ID),
			slog.String("capital", o.run.Capital.String()))
		o.run.Transition(domain.RunStopped)
		o.emit(event.EvSystemNote, now, event.Note{
			Text: fmt.Sprintf("bankruptcy protection: capital %s", o.run.Capital),
		})
		return true, o.persistRun(ctx)
	}

	if o.run.MaxPositions > 0 && o.book.OpenCount() > 2*o.run.MaxPositions {
		slog.Error("RUNAWAY_GUARD_TRIPPED",
			slog.String("run", o.run.ID),
			slog.Int("open", o.book.OpenCount()),
			slog.Int("limit", o.run.MaxPositions))
		// Close everything in this same evaluation, then stop.
		for _, p := range o.book.OpenPositions() {
			mark, ok := o.mark(p.Symbol)
			if !ok {
				mark = p.MarkPrice
			}
			if err := o.forceExit(ctx, p, mark, "runaway strategy guard", now); err != nil {
				return true, err
			}
		}
		o.run.Transition(domain.RunStopped)
		o.emit(event.EvSystemNote, now, event.Note{Text: "runaway strategy guard: all positions closed"})
		return true, o.persistRun(ctx)
	}
	return false, nil
}

func (o *Orchestrator) allPositions() []*domain.Position {
	return o.book.AllPositions()
}

func (o *Orchestrator) currentMarks() map[string]decimal.Decimal {
	o.markMu.RLock()
	defer o.markMu.RUnlock()
	out := make(map[string]decimal.Decimal, len(o.marks))
	for k, v := range o.marks {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) persistRun(ctx context.Context) error {
	if o.repo == nil {
		return nil
	}
	if err := o.repo.SaveRun(ctx, o.run); err != nil {
		return fmt.Errorf("engine: saving run: %w", err)
	}
	return nil
}

func (o *Orchestrator) persistPosition(ctx context.Context, p *domain.Position) error {
	if o.repo == nil {
		return nil
	}
	if err := o.repo.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("engine: saving position %s: %w", p.ID, err)
	}
	return nil
}

func (o *Orchestrator) snapshotPrice(ctx context.Context, symbol string, mark decimal.Decimal, label string, at time.Time) {
	if o.repo == nil {
		return
	}
	snap := domain.PriceSnapshot{
		RunID:   o.run.ID,
		Symbol:  symbol,
		At:      at,
		Mark:    mark,
		Context: label,
	}
	if err := o.repo.SavePriceSnapshot(ctx, &snap); err != nil {
		slog.Warn("PRICE_SNAPSHOT_FAILED", slog.Any("error", err))
	}
}

func (o *Orchestrator) emit(t event.Type, at time.Time, payload any) {
	ev := event.Event{RunID: o.run.ID, Type: t, At: at, Payload: payload}
	if err := o.events.Append(context.Background(), ev); err != nil {
		slog.Warn("EVENT_APPEND_FAILED",
			slog.String("type", t.String()),
			slog.Any("error", err))
	}
}
