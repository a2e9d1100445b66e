package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one price bar with its precomputed indicator columns. The
// engine never computes indicators itself; the feature store did.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`

	// Precomputed features.
	ROC        decimal.Decimal `json:"roc"`        // rate of change
	Volatility decimal.Decimal `json:"volatility"` // volatility multiple
	Spread     decimal.Decimal `json:"spread"`
	Imbalance  decimal.Decimal `json:"imbalance"` // order-book imbalance
}

// Provider serves ordered bars per symbol. Candles returns only bars
// with OpenTime strictly after since, oldest first. Callers pass their
// per-symbol watermark so each bar is seen exactly once.
type Provider interface {
	Candles(ctx context.Context, symbols []string, since map[string]time.Time, timeframe string) (map[string][]Candle, error)
}

// Memory is an in-process provider used by the backtest replayer and by
// tests. Thread-safe; bars are kept sorted by open time.
type Memory struct {
	mu   sync.RWMutex
	bars map[string][]Candle
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{bars: make(map[string][]Candle)}
}

// Add inserts a bar, keeping the symbol's series ordered.
func (m *Memory) Add(c Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	series := append(m.bars[c.Symbol], c)
	sort.Slice(series, func(i, j int) bool {
		return series[i].OpenTime.Before(series[j].OpenTime)
	})
	m.bars[c.Symbol] = series
}

// Candles implements Provider.
func (m *Memory) Candles(_ context.Context, symbols []string, since map[string]time.Time, timeframe string) (map[string][]Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]Candle, len(symbols))
	for _, sym := range symbols {
		cutoff := since[sym]
		for _, c := range m.bars[sym] {
			if timeframe != "" && c.Timeframe != timeframe {
				continue
			}
			if c.OpenTime.After(cutoff) {
				out[sym] = append(out[sym], c)
			}
		}
	}
	return out, nil
}
