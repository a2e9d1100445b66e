package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"perp_go/internal/marketdata"
)

// MarkSink receives streamed mark prices and funding rates.
type MarkSink interface {
	SetMark(symbol string, price decimal.Decimal)
	SetFundingRate(symbol string, rate decimal.Decimal)
}

// MarkFeed is the StreamHandler for a venue's public data stream. It
// subscribes to mark price, funding rate and candle channels for the
// run's symbols and routes frames to the engine and the bar provider.
type MarkFeed struct {
	url       string
	symbols   []string
	timeframe string
	sink      MarkSink
	bars      *marketdata.Memory // may be nil when no strategy bars are streamed
}

// NewMarkFeed builds a feed for the given symbols.
func NewMarkFeed(url string, symbols []string, timeframe string, sink MarkSink, bars *marketdata.Memory) *MarkFeed {
	return &MarkFeed{
		url:       url,
		symbols:   symbols,
		timeframe: timeframe,
		sink:      sink,
		bars:      bars,
	}
}

func (f *MarkFeed) URL() string { return f.url }
func (f *MarkFeed) ID() string  { return "markfeed" }

// subscription is one channel request in the subscribe frame.
type subscription struct {
	Channel   string `json:"channel"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe,omitempty"`
}

// OnConnect implements StreamHandler. Runs after every reconnect, so a
// dropped connection resubscribes on its own.
func (f *MarkFeed) OnConnect(_ context.Context, conn *websocket.Conn) error {
	var args []subscription
	for _, sym := range f.symbols {
		args = append(args,
			subscription{Channel: "mark", Symbol: sym},
			subscription{Channel: "funding", Symbol: sym},
			subscription{Channel: "candle", Symbol: sym, Timeframe: f.timeframe},
		)
	}
	msg, err := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (f *MarkFeed) Heartbeat() []byte { return []byte("ping") }

func (f *MarkFeed) IsHeartbeatAck(msg []byte) bool { return string(msg) == "pong" }

// dataFrame is the superset of every channel's payload.
type dataFrame struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`

	Price decimal.Decimal `json:"price"` // mark
	Rate  decimal.Decimal `json:"rate"`  // funding

	// candle
	OpenTimeMS int64           `json:"open_time_ms"`
	Open       decimal.Decimal `json:"open"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Close      decimal.Decimal `json:"close"`
	Volume     decimal.Decimal `json:"volume"`
	ROC        decimal.Decimal `json:"roc"`
	Volatility decimal.Decimal `json:"volatility"`
}

// OnMessage implements StreamHandler.
func (f *MarkFeed) OnMessage(_ context.Context, msg []byte) {
	var frame dataFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		slog.Warn("markfeed: unparseable frame", slog.Any("err", err))
		return
	}

	switch frame.Channel {
	case "mark":
		if frame.Symbol != "" && frame.Price.IsPositive() {
			f.sink.SetMark(frame.Symbol, frame.Price)
		}
	case "funding":
		if frame.Symbol != "" {
			f.sink.SetFundingRate(frame.Symbol, frame.Rate)
		}
	case "candle":
		if f.bars == nil || frame.Symbol == "" || frame.OpenTimeMS <= 0 {
			return
		}
		f.bars.Add(marketdata.Candle{
			Symbol:     frame.Symbol,
			Timeframe:  f.timeframe,
			OpenTime:   time.UnixMilli(frame.OpenTimeMS).UTC(),
			Open:       frame.Open,
			High:       frame.High,
			Low:        frame.Low,
			Close:      frame.Close,
			Volume:     frame.Volume,
			ROC:        frame.ROC,
			Volatility: frame.Volatility,
		})
	default:
		// Subscription acks and unknown channels are ignored.
	}
}
