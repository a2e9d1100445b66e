package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"perp_go/internal/domain"
	"perp_go/internal/exchange"
)

// Live sends orders to a real venue through the retrying submitter and
// converts the venue's ack into a canonical fill.
type Live struct {
	submitter *exchange.Submitter
}

// NewLive creates the live executor.
func NewLive(submitter *exchange.Submitter) *Live {
	return &Live{submitter: submitter}
}

// Execute implements Execution. The order id doubles as the idempotency
// token: a retried submission can never create a duplicate venue order.
func (l *Live) Execute(ctx context.Context, req Request) (domain.Fill, error) {
	ack, err := l.submitter.Submit(ctx, exchange.OrderRequest{
		ClientOrderID: req.Order.ID,
		Symbol:        req.Order.Symbol,
		Side:          req.Order.Side,
		Qty:           req.Order.Qty,
		Price:         req.Order.Price,
		ReduceOnly:    req.Order.Kind == domain.KindExit,
	})
	if err != nil {
		return domain.Fill{}, fmt.Errorf("live execute %s: %w", req.Order.ID, err)
	}

	f := fillFor(req, ack.Price, uuid.NewString())
	f.Qty = ack.Qty
	switch {
	case !ack.Fee.IsZero():
		// Prefer the fee the venue actually charged.
		f.Fee = ack.Fee
	default:
		// Venues that omit the fee still only charge on what traded,
		// which on a partial fill is less than the requested quantity.
		f.Fee = ack.Qty.Mul(ack.Price).Mul(req.FeeRate)
	}
	if !ack.At.IsZero() {
		f.At = ack.At
	}
	return f, nil
}
