package infra

import (
	"testing"
	"time"
)

func TestSubmitBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 250 * time.Millisecond},
		{0, 250 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 5 * time.Second}, // capped
		{40, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := SubmitBackoff(tt.attempt); got != tt.want {
			t.Errorf("SubmitBackoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestReconnectBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second}, // capped
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := ReconnectBackoff(tt.attempt); got != tt.want {
			t.Errorf("ReconnectBackoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
