package funding

import (
	"time"

	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
)

// Funding is tracked per position, anchored to that position's own open
// timestamp. Every 8 hours after open, one payment is exchanged at the
// rate that is current at charge time.

// Interval is the funding period of a perpetual contract.
const Interval = 8 * time.Hour

// Payment is one funding charge, logged per period.
type Payment struct {
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	At         time.Time       `json:"at"` // the period boundary that was charged
	Rate       decimal.Decimal `json:"rate"`
	Mark       decimal.Decimal `json:"mark"`
	Amount     decimal.Decimal `json:"amount"` // signed: negative = account pays
}

// Engine holds the most recently observed funding rate per symbol.
type Engine struct {
	rates map[string]decimal.Decimal
}

// NewEngine creates an engine with no known rates (all treated as zero).
func NewEngine() *Engine {
	return &Engine{rates: make(map[string]decimal.Decimal)}
}

// SetRate records the latest funding rate for a symbol. Charges always
// use the latest rate, never the rate at position-open time.
func (e *Engine) SetRate(symbol string, rate decimal.Decimal) {
	e.rates[symbol] = rate
}

// Rate returns the current rate for a symbol, zero if never set.
func (e *Engine) Rate(symbol string) decimal.Decimal {
	return e.rates[symbol]
}

// Accrue charges every funding period due on the position up to now and
// returns the payments in boundary order. For each period it applies
// the signed amount to the position's accumulated-funding counter and
// advances the position's next-due timestamp by one interval; a long
// pays a positive rate, a short receives it.
//
// The caller applies the returned amounts to the run's account balance
// and logs each payment.
func (e *Engine) Accrue(p *domain.Position, mark decimal.Decimal, now time.Time) []Payment {
	if !p.IsOpen() {
		return nil
	}
	if p.NextFundingAt.IsZero() {
		p.NextFundingAt = p.OpenedAt.Add(Interval)
	}

	var payments []Payment
	for !now.Before(p.NextFundingAt) {
		rate := e.Rate(p.Symbol)
		notional := p.QtyOpen.Mul(mark)
		amount := notional.Mul(rate).Mul(p.Side.Direction()).Neg()

		p.Funding = p.Funding.Add(amount)
		payments = append(payments, Payment{
			PositionID: p.ID,
			Symbol:     p.Symbol,
			At:         p.NextFundingAt,
			Rate:       rate,
			Mark:       mark,
			Amount:     amount,
		})
		p.NextFundingAt = p.NextFundingAt.Add(Interval)
	}
	return payments
}
