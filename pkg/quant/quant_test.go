package quant

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		err  bool
	}{
		{"Integer", "50000", "50000", false},
		{"Fraction", "0.0004", "0.0004", false},
		{"Negative", "-12.5", "-12.5", false},
		{"Empty", "", "0", false},
		{"Null", "null", "0", false},
		{"Garbage", "12.3.4", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.err {
				if err == nil {
					t.Fatalf("ParseAmount(%q): expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q): %v", tt.in, err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestMustAmountPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for malformed literal")
		}
	}()
	MustAmount("not-a-number")
}

func TestParseTimeStampMS(t *testing.T) {
	ts, err := ParseTimeStampMS("1700000000000")
	if err != nil {
		t.Fatal(err)
	}
	if got := ts.UnixMilli(); got != 1700000000000 {
		t.Errorf("round trip = %d", got)
	}
	if ts.Location() != time.UTC {
		t.Error("expected UTC")
	}
}

func TestBps(t *testing.T) {
	if !Bps(4).Equal(decimal.RequireFromString("0.0004")) {
		t.Errorf("Bps(4) = %s", Bps(4))
	}
}

func FuzzParseAmount(f *testing.F) {
	f.Add("1.23")
	f.Add("-0.0001")
	f.Add("null")
	f.Fuzz(func(t *testing.T, s string) {
		// Must never panic regardless of input.
		_, _ = ParseAmount(s)
	})
}
