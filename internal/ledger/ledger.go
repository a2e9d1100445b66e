package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
)

// The canonical ledger. Orders, fills and positions of one run live in
// a Book; every mutation flows through ApplyFill so that the order FSM,
// the position FSM and the derived money fields can never drift apart.

var (
	ErrOrderNotFound    = errors.New("ledger: order not found")
	ErrPositionNotFound = errors.New("ledger: position not found")
	ErrOrderClosed      = errors.New("ledger: order is not open")
	ErrPositionClosed   = errors.New("ledger: position is closed")
	ErrExcessExit       = errors.New("ledger: exit quantity exceeds open quantity")
	ErrBadFill          = errors.New("ledger: fill quantity must be positive")
)

// Book holds one run's orders, fills and positions.
type Book struct {
	orders     map[string]*domain.Order
	positions  map[string]*domain.Position
	posFills   map[string][]domain.Fill
	orderFills map[string][]domain.Fill
}

// NewBook creates an empty ledger book.
func NewBook() *Book {
	return &Book{
		orders:     make(map[string]*domain.Order),
		positions:  make(map[string]*domain.Position),
		posFills:   make(map[string][]domain.Fill),
		orderFills: make(map[string][]domain.Fill),
	}
}

// AddOrder registers a new order intent. Duplicate ids are an error.
func (b *Book) AddOrder(o *domain.Order) error {
	if _, ok := b.orders[o.ID]; ok {
		return fmt.Errorf("ledger: duplicate order id %s", o.ID)
	}
	b.orders[o.ID] = o
	return nil
}

// AddPosition registers a new position in state NEW.
func (b *Book) AddPosition(p *domain.Position) error {
	if _, ok := b.positions[p.ID]; ok {
		return fmt.Errorf("ledger: duplicate position id %s", p.ID)
	}
	b.positions[p.ID] = p
	return nil
}

// Order returns an order by id.
func (b *Book) Order(id string) (*domain.Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Position returns a position by id.
func (b *Book) Position(id string) (*domain.Position, bool) {
	p, ok := b.positions[id]
	return p, ok
}

// Fills returns the ordered fills of a position.
func (b *Book) Fills(positionID string) []domain.Fill {
	return b.posFills[positionID]
}

// OpenPositions returns every position currently holding exposure.
func (b *Book) OpenPositions() []*domain.Position {
	var out []*domain.Position
	for _, p := range b.positions {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// AllPositions returns every position the book knows, open or closed.
func (b *Book) AllPositions() []*domain.Position {
	out := make([]*domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}

// OpenCount returns the number of open positions.
func (b *Book) OpenCount() int {
	n := 0
	for _, p := range b.positions {
		if p.IsOpen() {
			n++
		}
	}
	return n
}

// OpenForSymbol returns the open positions for one symbol.
func (b *Book) OpenForSymbol(symbol string) []*domain.Position {
	var out []*domain.Position
	for _, p := range b.positions {
		if p.IsOpen() && p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

// ApplyFill applies one execution to the book as a single logical unit:
// the fill is recorded, the order status moves along its FSM, and the
// position's quantities and derived money fields are recomputed. All
// validation happens before the first mutation, so a rejected fill
// leaves no partial state behind.
func (b *Book) ApplyFill(f domain.Fill) error {
	if !f.Qty.IsPositive() {
		return ErrBadFill
	}
	o, ok := b.orders[f.OrderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, f.OrderID)
	}
	if !o.IsOpen() {
		return fmt.Errorf("%w: %s", ErrOrderClosed, f.OrderID)
	}
	p, ok := b.positions[f.PositionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, f.PositionID)
	}
	if p.Status == domain.PositionStatusClosed {
		return fmt.Errorf("%w: %s", ErrPositionClosed, f.PositionID)
	}
	if f.Kind == domain.KindExit && f.Qty.Cmp(p.QtyOpen) > 0 {
		return fmt.Errorf("%w: exit %s > open %s", ErrExcessExit, f.Qty, p.QtyOpen)
	}

	wasNew := p.Status == domain.PositionStatusNew

	b.orderFills[o.ID] = append(b.orderFills[o.ID], f)
	b.posFills[p.ID] = append(b.posFills[p.ID], f)

	cum := decimal.Zero
	for _, of := range b.orderFills[o.ID] {
		cum = cum.Add(of.Qty)
	}
	o.Status = domain.StatusForQty(o.Qty, cum)

	Recompute(p, b.posFills[p.ID])

	// Status and timestamps are the one side effect Recompute leaves to
	// the fill application itself.
	if wasNew && p.QtyOpen.IsPositive() {
		p.Status = domain.PositionStatusOpen
		p.OpenedAt = f.At
	}
	if p.Status == domain.PositionStatusOpen && p.QtyOpen.IsZero() {
		p.Status = domain.PositionStatusClosed
		p.ClosedAt = f.At
	}
	return nil
}

// Recompute replays a position's fills and rewrites its derived fields:
// open/closed quantity, entry/exit VWAP, fees and realized P&L. It is
// idempotent and has no side effects beyond those cached fields, so it
// can be called at any time with the same result.
func Recompute(p *domain.Position, fills []domain.Fill) {
	entryQty, exitQty := decimal.Zero, decimal.Zero
	entryCost, exitCost := decimal.Zero, decimal.Zero
	fees := decimal.Zero

	for _, f := range fills {
		fees = fees.Add(f.Fee)
		switch f.Kind {
		case domain.KindEntry:
			entryQty = entryQty.Add(f.Qty)
			entryCost = entryCost.Add(f.Qty.Mul(f.Price))
		case domain.KindExit:
			exitQty = exitQty.Add(f.Qty)
			exitCost = exitCost.Add(f.Qty.Mul(f.Price))
		}
	}

	p.QtyOpen = entryQty.Sub(exitQty)
	p.QtyClosed = exitQty
	p.Fees = fees

	if entryQty.IsPositive() {
		p.EntryVWAP = entryCost.Div(entryQty)
	} else {
		p.EntryVWAP = decimal.Zero
	}
	if exitQty.IsPositive() {
		p.ExitVWAP = exitCost.Div(exitQty)
	} else {
		p.ExitVWAP = decimal.Zero
	}

	if exitQty.IsPositive() {
		diff := p.ExitVWAP.Sub(p.EntryVWAP).Mul(p.Side.Direction())
		p.RealizedPnL = diff.Mul(exitQty).Sub(fees)
	} else {
		p.RealizedPnL = fees.Neg()
	}
}
