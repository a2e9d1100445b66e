package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPosition_UnrealizedPnL(t *testing.T) {
	tests := []struct {
		name  string
		side  Side
		entry string
		mark  string
		qty   string
		want  string
	}{
		{"LongProfit", SideLong, "100", "110", "10", "100"},
		{"LongLoss", SideLong, "100", "95", "10", "-50"},
		{"ShortProfit", SideShort, "100", "90", "10", "100"},
		{"ShortLoss", SideShort, "100", "104", "10", "-40"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Position{
				Side:      tt.side,
				Status:    PositionStatusOpen,
				EntryVWAP: decimal.RequireFromString(tt.entry),
				QtyOpen:   decimal.RequireFromString(tt.qty),
			}
			got := p.UnrealizedPnL(decimal.RequireFromString(tt.mark))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("UnrealizedPnL = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPosition_UnrealizedPnLClosed(t *testing.T) {
	p := &Position{Status: PositionStatusClosed, EntryVWAP: decimal.NewFromInt(100)}
	if !p.UnrealizedPnL(decimal.NewFromInt(200)).IsZero() {
		t.Error("closed position must not mark to market")
	}
}

func TestPosition_Expired(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &Position{}
	if p.Expired(now) {
		t.Error("zero ExpiresAt must never expire")
	}
	p.ExpiresAt = now
	if !p.Expired(now) {
		t.Error("position at its deadline is expired")
	}
	p.ExpiresAt = now.Add(time.Second)
	if p.Expired(now) {
		t.Error("deadline in the future is not expired")
	}
}
