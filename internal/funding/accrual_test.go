package funding

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var openAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func openPosition(side domain.Side, qty string) *domain.Position {
	return &domain.Position{
		ID:            "p1",
		Symbol:        "BTCUSDT",
		Side:          side,
		Status:        domain.PositionStatusOpen,
		QtyOpen:       d(qty),
		OpenedAt:      openAt,
		NextFundingAt: openAt.Add(Interval),
	}
}

func TestAccrue_PaymentSigns(t *testing.T) {
	tests := []struct {
		name string
		side domain.Side
		rate string
		want string
	}{
		{"LongPaysPositiveRate", domain.SideLong, "0.0001", "-5"},
		{"ShortReceivesPositiveRate", domain.SideShort, "0.0001", "5"},
		{"ZeroRateZeroPayment", domain.SideLong, "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine()
			e.SetRate("BTCUSDT", d(tt.rate))
			p := openPosition(tt.side, "1")

			payments := e.Accrue(p, d("50000"), openAt.Add(Interval))
			if len(payments) != 1 {
				t.Fatalf("got %d payments, want 1", len(payments))
			}
			if !payments[0].Amount.Equal(d(tt.want)) {
				t.Errorf("payment = %s, want %s", payments[0].Amount, tt.want)
			}
			if !p.Funding.Equal(d(tt.want)) {
				t.Errorf("accumulated funding = %s, want %s", p.Funding, tt.want)
			}
		})
	}
}

func TestAccrue_NothingBeforeFirstBoundary(t *testing.T) {
	e := NewEngine()
	e.SetRate("BTCUSDT", d("0.0001"))
	p := openPosition(domain.SideLong, "1")

	if got := e.Accrue(p, d("50000"), openAt.Add(Interval-time.Second)); len(got) != 0 {
		t.Fatalf("charged %d payments before the 8h boundary", len(got))
	}
	if !p.Funding.IsZero() {
		t.Error("funding accumulated before boundary")
	}
}

func TestAccrue_ExactlyOnePerBoundary(t *testing.T) {
	e := NewEngine()
	e.SetRate("BTCUSDT", d("0.0001"))
	p := openPosition(domain.SideLong, "1")

	// First boundary.
	if got := e.Accrue(p, d("50000"), openAt.Add(Interval)); len(got) != 1 {
		t.Fatalf("first boundary: %d payments", len(got))
	}
	// Same instant again: nothing more is due.
	if got := e.Accrue(p, d("50000"), openAt.Add(Interval)); len(got) != 0 {
		t.Fatalf("re-accrual at same instant charged %d payments", len(got))
	}
	// Second boundary.
	if got := e.Accrue(p, d("50000"), openAt.Add(2*Interval)); len(got) != 1 {
		t.Fatalf("second boundary: %d payments", len(got))
	}
	// Two periods at -5 each.
	if !p.Funding.Equal(d("-10")) {
		t.Errorf("accumulated funding = %s, want -10", p.Funding)
	}
}

func TestAccrue_CatchUpChargesEachPeriodInOrder(t *testing.T) {
	e := NewEngine()
	e.SetRate("BTCUSDT", d("0.0001"))
	p := openPosition(domain.SideLong, "2")

	// Three periods elapse in a single tick (downtime catch-up).
	payments := e.Accrue(p, d("50000"), openAt.Add(3*Interval))
	if len(payments) != 3 {
		t.Fatalf("got %d payments, want 3", len(payments))
	}
	for i, pay := range payments {
		wantAt := openAt.Add(time.Duration(i+1) * Interval)
		if !pay.At.Equal(wantAt) {
			t.Errorf("payment %d at %v, want %v", i, pay.At, wantAt)
		}
		if !pay.Amount.Equal(d("-10")) { // 2 * 50000 * 0.0001
			t.Errorf("payment %d amount = %s, want -10", i, pay.Amount)
		}
	}
	if !p.Funding.Equal(d("-30")) {
		t.Errorf("accumulated funding = %s, want -30", p.Funding)
	}
	if !p.NextFundingAt.Equal(openAt.Add(4 * Interval)) {
		t.Errorf("next due = %v", p.NextFundingAt)
	}
}

func TestAccrue_UsesRateAtChargeTime(t *testing.T) {
	e := NewEngine()
	e.SetRate("BTCUSDT", d("0.0001"))
	p := openPosition(domain.SideLong, "1")

	// Rate flips before the boundary is charged: the new rate applies.
	e.SetRate("BTCUSDT", d("-0.0002"))
	payments := e.Accrue(p, d("50000"), openAt.Add(Interval))
	if len(payments) != 1 {
		t.Fatal("expected one payment")
	}
	if !payments[0].Amount.Equal(d("10")) { // long receives a negative rate
		t.Errorf("payment = %s, want 10", payments[0].Amount)
	}
}

func TestAccrue_ClosedPositionNeverAccrues(t *testing.T) {
	e := NewEngine()
	e.SetRate("BTCUSDT", d("0.0001"))
	p := openPosition(domain.SideLong, "1")
	p.Status = domain.PositionStatusClosed

	if got := e.Accrue(p, d("50000"), openAt.Add(10*Interval)); len(got) != 0 {
		t.Error("closed position accrued funding")
	}
}
