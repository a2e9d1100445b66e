package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Direction returns +1 for LONG and -1 for SHORT as a Decimal, for
// price-difference P&L terms.
func (s Side) Direction() decimal.Decimal {
	if s == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderKind distinguishes position-opening from position-closing intents.
type OrderKind string

const (
	KindEntry OrderKind = "ENTRY"
	KindExit  OrderKind = "EXIT"
)

// OrderStatus follows the fill-driven FSM NEW -> PARTIAL -> FILLED.
// The FSM never regresses; transitions happen only when a Fill is applied.
type OrderStatus string

const (
	OrderStatusNew     OrderStatus = "NEW"
	OrderStatusPartial OrderStatus = "PARTIAL"
	OrderStatusFilled  OrderStatus = "FILLED"
)

// Order is a trading intent, owned by exactly one run.
type Order struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Kind      OrderKind       `json:"kind"`
	Qty       decimal.Decimal `json:"qty"`   // requested quantity
	Price     decimal.Decimal `json:"price"` // intended price
	Status    OrderStatus     `json:"status"`
	Reason    string          `json:"reason,omitempty"` // set when the venue rejects the intent
	CreatedAt time.Time       `json:"created_at"`
}

// IsOpen reports whether the order can still receive fills.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartial
}

// StatusForQty maps cumulative filled quantity onto the order FSM.
// cumulative < requested -> PARTIAL, cumulative >= requested -> FILLED.
// Zero cumulative quantity leaves the order NEW.
func StatusForQty(requested, cumulative decimal.Decimal) OrderStatus {
	switch {
	case cumulative.IsZero():
		return OrderStatusNew
	case cumulative.Cmp(requested) < 0:
		return OrderStatusPartial
	default:
		return OrderStatusFilled
	}
}
