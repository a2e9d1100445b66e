package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
)

// Request carries everything an executor needs to turn an accepted
// order into a fill.
type Request struct {
	Order      domain.Order
	PositionID string
	Mark       decimal.Decimal // current mark price for the symbol
	FeeRate    decimal.Decimal // taker fee rate of the run
	Now        time.Time
}

// Execution produces fills. The ledger and accounting treat a simulated
// fill and an exchange-reported fill identically; implementations only
// differ in where the numbers come from.
type Execution interface {
	Execute(ctx context.Context, req Request) (domain.Fill, error)
}

// fillFor builds the canonical fill for an executed order. Shared by
// every mode so the accounting is numerically identical across them.
func fillFor(req Request, price decimal.Decimal, id string) domain.Fill {
	fee := req.Order.Qty.Mul(price).Mul(req.FeeRate)
	return domain.Fill{
		ID:         id,
		RunID:      req.Order.RunID,
		OrderID:    req.Order.ID,
		PositionID: req.PositionID,
		Symbol:     req.Order.Symbol,
		Side:       req.Order.Side,
		Kind:       req.Order.Kind,
		Qty:        req.Order.Qty,
		Price:      price,
		Fee:        fee,
		At:         req.Now,
	}
}
