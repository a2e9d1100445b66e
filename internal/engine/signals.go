package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perp_go/internal/accounting"
	"perp_go/internal/domain"
	"perp_go/internal/event"
	"perp_go/internal/execution"
	"perp_go/internal/funding"
	"perp_go/internal/strategy"
)

// evaluate feeds every unseen bar to the strategy and acts on the
// resulting signals. The per-symbol watermark guarantees each bar is
// evaluated exactly once, across ticks and across restarts.
func (o *Orchestrator) evaluate(ctx context.Context, now time.Time) error {
	since := make(map[string]time.Time, len(o.run.Symbols))
	for _, sym := range o.run.Symbols {
		since[sym] = o.run.Watermark(sym)
	}

	bars, err := o.data.Candles(ctx, o.run.Symbols, since, o.timeframe)
	if err != nil {
		return fmt.Errorf("engine: fetching candles: %w", err)
	}

	for _, sym := range o.run.Symbols {
		for _, bar := range bars[sym] {
			// The bar close is the freshest price we have for the symbol.
			o.SetMark(sym, bar.Close)

			view := o.view()
			for _, sig := range o.strategy.Evaluate(bar, view) {
				o.handleSignal(ctx, sig, now)
			}
			o.run.AdvanceWatermark(sym, bar.OpenTime)
		}
	}
	return nil
}

// view builds the read-only run state slice strategies see.
func (o *Orchestrator) view() strategy.View {
	open := make(map[string]domain.Side)
	for _, p := range o.book.OpenPositions() {
		open[p.Symbol] = p.Side
	}
	return strategy.View{Capital: o.run.Capital, Open: open}
}

// handleSignal gates and executes one signal. A rejected signal takes
// no side effect beyond its audit event; a failed execution is logged
// and the run continues.
func (o *Orchestrator) handleSignal(ctx context.Context, sig domain.Signal, now time.Time) {
	if reason := o.gate(sig); reason != "" {
		slog.Info("SIGNAL_REJECTED",
			slog.String("run", o.run.ID),
			slog.String("symbol", sig.Symbol),
			slog.String("side", string(sig.Side)),
			slog.String("reason", reason))
		o.emit(event.EvSignalRejected, now, event.Rejection{
			Symbol: sig.Symbol,
			Side:   string(sig.Side),
			Kind:   string(sig.Kind),
			Reason: reason,
		})
		return
	}

	var err error
	if sig.Kind == domain.KindEntry {
		err = o.executeEntry(ctx, sig, now)
	} else {
		err = o.executeExitSignal(ctx, sig, now)
	}
	if err != nil {
		slog.Error("SIGNAL_FAILED",
			slog.String("run", o.run.ID),
			slog.String("symbol", sig.Symbol),
			slog.Any("error", err))
		o.emit(event.EvSignalFailed, now, event.Note{
			Text: fmt.Sprintf("%s %s %s: %v", sig.Kind, sig.Side, sig.Symbol, err),
		})
	}
}

// gate runs every risk check on a signal and returns the machine-readable
// rejection reason, or "" when the signal may execute.
func (o *Orchestrator) gate(sig domain.Signal) string {
	if sig.Kind == domain.KindExit {
		// Exits pass as long as the run may still exit; they reduce risk.
		return ""
	}

	if !o.run.CanEnter() {
		return domain.RejectWindingDown
	}

	if !sig.Price.IsPositive() {
		return domain.RejectNoMarkPrice
	}

	sameSymbol := o.book.OpenForSymbol(sig.Symbol)
	if !o.run.AllowOpposing {
		for _, p := range sameSymbol {
			if p.Side == sig.Side.Opposite() {
				return domain.RejectOpposingPosition
			}
		}
	}
	if !o.run.MultiPosition && len(sameSymbol) > 0 {
		return domain.RejectDuplicatePosition
	}
	if o.run.MaxPositions > 0 && o.book.OpenCount() >= o.run.MaxPositions {
		return domain.RejectMaxPositions
	}

	notional := sig.Qty.Mul(sig.Price)
	maxLev, err := o.margins.MaxLeverage(sig.Symbol, notional)
	if err != nil || o.run.Leverage.Cmp(maxLev) > 0 {
		return domain.RejectLeverageTier
	}

	margin := notional.Div(o.run.Leverage)
	fee := notional.Mul(o.run.FeeRate)
	if o.run.Capital.Cmp(margin.Add(fee)) < 0 {
		return domain.RejectInsufficientCapital
	}
	return ""
}

// executeEntry opens a new position for an accepted entry signal. The
// order is created and persisted first; if execution then fails, the
// order remains in NEW state, which is valid and inspectable rather
// than corrupt.
func (o *Orchestrator) executeEntry(ctx context.Context, sig domain.Signal, now time.Time) error {
	order := &domain.Order{
		ID:        uuid.NewString(),
		RunID:     o.run.ID,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Kind:      domain.KindEntry,
		Qty:       sig.Qty,
		Price:     sig.Price,
		Status:    domain.OrderStatusNew,
		CreatedAt: now,
	}

	notional := sig.Qty.Mul(sig.Price)
	pos := &domain.Position{
		ID:        uuid.NewString(),
		RunID:     o.run.ID,
		Symbol:    sig.Symbol,
		Side:      sig.Side,
		Status:    domain.PositionStatusNew,
		CostBasis: notional.Div(o.run.Leverage),
		Leverage:  o.run.Leverage,
		MarkPrice: sig.Price,
	}
	maint, err := o.margins.MaintenanceMargin(sig.Symbol, notional)
	if err != nil {
		return err
	}
	pos.MaintMargin = maint

	if err := o.book.AddOrder(order); err != nil {
		return err
	}
	if err := o.book.AddPosition(pos); err != nil {
		return err
	}
	if o.repo != nil {
		if err := o.repo.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("engine: saving order: %w", err)
		}
		if err := o.repo.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("engine: saving position: %w", err)
		}
	}
	o.emit(event.EvOrderNew, now, order)

	mark, _ := o.mark(sig.Symbol)
	fill, err := o.exec.Execute(ctx, execution.Request{
		Order:      *order,
		PositionID: pos.ID,
		Mark:       mark,
		FeeRate:    o.run.FeeRate,
		Now:        now,
	})
	if err != nil {
		return err
	}

	return o.settleFill(ctx, fill, order, pos, now)
}

// executeExitSignal fully closes the open positions matching an exit
// signal (symbol and side) at the signal price.
func (o *Orchestrator) executeExitSignal(ctx context.Context, sig domain.Signal, now time.Time) error {
	for _, p := range o.book.OpenForSymbol(sig.Symbol) {
		if p.Side != sig.Side {
			continue
		}
		if err := o.closePosition(ctx, p, sig.Price, sig.Note, now); err != nil {
			return err
		}
	}
	return nil
}

// forceExit closes a position at the given mark regardless of strategy
// opinion, used for liquidations, holding-limit expiry and the runaway
// guard.
func (o *Orchestrator) forceExit(ctx context.Context, p *domain.Position, mark decimal.Decimal, why string, now time.Time) error {
	if err := o.closePosition(ctx, p, mark, why, now); err != nil {
		return err
	}
	o.emit(event.EvSystemNote, now, event.Note{
		Text: fmt.Sprintf("forced exit %s %s: %s", p.Symbol, p.ID, why),
	})
	return nil
}

// closePosition submits and settles a full-size exit for a position.
func (o *Orchestrator) closePosition(ctx context.Context, p *domain.Position, price decimal.Decimal, note string, now time.Time) error {
	if !price.IsPositive() {
		return fmt.Errorf("engine: no exit price for %s", p.Symbol)
	}

	order := &domain.Order{
		ID:        uuid.NewString(),
		RunID:     o.run.ID,
		Symbol:    p.Symbol,
		Side:      p.Side,
		Kind:      domain.KindExit,
		Qty:       p.QtyOpen,
		Price:     price,
		Status:    domain.OrderStatusNew,
		Reason:    note,
		CreatedAt: now,
	}
	if err := o.book.AddOrder(order); err != nil {
		return err
	}
	if o.repo != nil {
		if err := o.repo.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("engine: saving order: %w", err)
		}
	}
	o.emit(event.EvOrderNew, now, order)

	mark, _ := o.mark(p.Symbol)
	fill, err := o.exec.Execute(ctx, execution.Request{
		Order:      *order,
		PositionID: p.ID,
		Mark:       mark,
		FeeRate:    o.run.FeeRate,
		Now:        now,
	})
	if err != nil {
		return err
	}

	return o.settleFill(ctx, fill, order, p, now)
}

// settleFill commits one fill: ledger mutation, capital movement,
// persistence and audit events, in that order.
func (o *Orchestrator) settleFill(ctx context.Context, fill domain.Fill, order *domain.Order, pos *domain.Position, now time.Time) error {
	wasOpen := pos.IsOpen()

	if err := o.book.ApplyFill(fill); err != nil {
		return err
	}

	// Fees hit capital per fill; funding starts counting from open.
	accounting.ApplyFee(o.run, fill.Fee)
	if pos.Status == domain.PositionStatusOpen && pos.NextFundingAt.IsZero() {
		pos.NextFundingAt = pos.OpenedAt.Add(funding.Interval)
		if o.run.MaxHolding > 0 {
			pos.ExpiresAt = pos.OpenedAt.Add(o.run.MaxHolding)
		}
	}

	if o.repo != nil {
		if err := o.repo.SaveFill(ctx, &fill); err != nil {
			return fmt.Errorf("engine: saving fill: %w", err)
		}
		if err := o.repo.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("engine: saving order: %w", err)
		}
		if err := o.persistPosition(ctx, pos); err != nil {
			return err
		}
	}
	o.emit(event.EvFill, now, fill)
	o.emit(event.EvOrderUpdate, now, order)

	switch {
	case !wasOpen && pos.IsOpen():
		o.emit(event.EvPositionOpened, now, pos)
	case pos.Status == domain.PositionStatusClosed:
		// The gross price term moves capital exactly once, at close.
		accounting.ApplyClose(o.run, pos)
		o.emit(event.EvPositionClosed, now, pos)
	}

	return o.persistRun(ctx)
}
