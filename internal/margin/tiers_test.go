package margin

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcTable() Table {
	return Table{
		{MaxNotional: d("50000"), InitialRate: d("0.01"), MaintenanceRate: d("0.005")},
		{MaxNotional: d("250000"), InitialRate: d("0.02"), MaintenanceRate: d("0.01")},
		{InitialRate: d("0.05"), MaintenanceRate: d("0.025")}, // unbounded
	}
}

func TestTierFor_BoundaryBelongsToLowerTier(t *testing.T) {
	tb := btcTable()

	tests := []struct {
		name     string
		notional string
		wantMMR  string
	}{
		{"WellInsideFirst", "49999", "0.005"},
		{"ExactBoundary", "50000", "0.005"},
		{"OnePastBoundary", "50001", "0.01"},
		{"SecondBoundary", "250000", "0.01"},
		{"IntoTerminal", "250001", "0.025"},
		{"Huge", "900000000", "0.025"},
		{"Zero", "0", "0.005"},
		{"Negative", "-5", "0.005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tb.TierFor(d(tt.notional))
			if !got.MaintenanceRate.Equal(d(tt.wantMMR)) {
				t.Errorf("TierFor(%s).MaintenanceRate = %s, want %s",
					tt.notional, got.MaintenanceRate, tt.wantMMR)
			}
		})
	}

	// 50000 and 49999 resolve to the same bracket; 50001 to a strictly
	// higher maintenance rate.
	same := tb.TierFor(d("50000"))
	if !same.MaintenanceRate.Equal(tb.TierFor(d("49999")).MaintenanceRate) {
		t.Error("boundary left its bracket")
	}
	next := tb.TierFor(d("50001"))
	if next.MaintenanceRate.Cmp(same.MaintenanceRate) <= 0 {
		t.Error("next bracket rate is not strictly higher")
	}
}

func TestTableValidate(t *testing.T) {
	tests := []struct {
		name string
		tb   Table
		ok   bool
	}{
		{"Valid", btcTable(), true},
		{"Empty", Table{}, false},
		{"NoTerminalUnbounded", Table{
			{MaxNotional: d("50000"), InitialRate: d("0.01"), MaintenanceRate: d("0.005")},
		}, false},
		{"UnboundedInMiddle", Table{
			{InitialRate: d("0.01"), MaintenanceRate: d("0.005")},
			{InitialRate: d("0.02"), MaintenanceRate: d("0.01")},
		}, false},
		{"DecreasingBounds", Table{
			{MaxNotional: d("50000"), InitialRate: d("0.01"), MaintenanceRate: d("0.005")},
			{MaxNotional: d("40000"), InitialRate: d("0.02"), MaintenanceRate: d("0.01")},
			{InitialRate: d("0.05"), MaintenanceRate: d("0.025")},
		}, false},
		{"DecreasingRates", Table{
			{MaxNotional: d("50000"), InitialRate: d("0.02"), MaintenanceRate: d("0.01")},
			{MaxNotional: d("250000"), InitialRate: d("0.01"), MaintenanceRate: d("0.005")},
			{InitialRate: d("0.05"), MaintenanceRate: d("0.025")},
		}, false},
		{"ZeroRate", Table{
			{InitialRate: d("0"), MaintenanceRate: d("0.005")},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tb.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestEngine_Margins(t *testing.T) {
	e, err := NewEngine(map[string]Table{"BTCUSDT": btcTable()})
	if err != nil {
		t.Fatal(err)
	}

	im, err := e.InitialMargin("BTCUSDT", d("40000"))
	if err != nil {
		t.Fatal(err)
	}
	if !im.Equal(d("400")) { // 40000 * 0.01
		t.Errorf("InitialMargin = %s, want 400", im)
	}

	mm, err := e.MaintenanceMargin("BTCUSDT", d("40000"))
	if err != nil {
		t.Fatal(err)
	}
	if !mm.Equal(d("200")) { // 40000 * 0.005
		t.Errorf("MaintenanceMargin = %s, want 200", mm)
	}

	if _, err := e.TierFor("ETHUSDT", d("1")); err == nil {
		t.Error("unknown symbol must error")
	}
}

func TestEngine_RejectsBadTable(t *testing.T) {
	_, err := NewEngine(map[string]Table{"BTCUSDT": {}})
	if err == nil {
		t.Error("expected error for empty table")
	}
}
