package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"perp_go/internal/domain"
)

// Sim fills every order immediately and completely at the order's own
// intended price. This is the backtest executor: the candle close the
// strategy saw is the price it trades at.
type Sim struct{}

// NewSim creates the backtest executor.
func NewSim() *Sim { return &Sim{} }

// Execute implements Execution.
func (s *Sim) Execute(_ context.Context, req Request) (domain.Fill, error) {
	if !req.Order.Price.IsPositive() {
		return domain.Fill{}, fmt.Errorf("sim execute %s: order has no price", req.Order.ID)
	}
	return fillFor(req, req.Order.Price, uuid.NewString()), nil
}

// Paper fills orders immediately at the live mark price instead of the
// intended price, so paper runs experience real slippage between signal
// and execution while keeping the same fill semantics as backtests.
type Paper struct{}

// NewPaper creates the paper trading executor.
func NewPaper() *Paper { return &Paper{} }

// Execute implements Execution.
func (p *Paper) Execute(_ context.Context, req Request) (domain.Fill, error) {
	if !req.Mark.IsPositive() {
		return domain.Fill{}, fmt.Errorf("paper execute %s: no mark price for %s", req.Order.ID, req.Order.Symbol)
	}
	return fillFor(req, req.Mark, uuid.NewString()), nil
}
