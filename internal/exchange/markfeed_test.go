package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"perp_go/internal/marketdata"
)

type recordedMarks struct {
	marks map[string]decimal.Decimal
	rates map[string]decimal.Decimal
}

func newRecordedMarks() *recordedMarks {
	return &recordedMarks{
		marks: make(map[string]decimal.Decimal),
		rates: make(map[string]decimal.Decimal),
	}
}

func (r *recordedMarks) SetMark(symbol string, price decimal.Decimal) { r.marks[symbol] = price }
func (r *recordedMarks) SetFundingRate(symbol string, rate decimal.Decimal) {
	r.rates[symbol] = rate
}

func TestMarkFeed_RoutesFrames(t *testing.T) {
	sink := newRecordedMarks()
	bars := marketdata.NewMemory()
	feed := NewMarkFeed("wss://example/ws", []string{"BTCUSDT"}, "1m", sink, bars)
	ctx := context.Background()

	feed.OnMessage(ctx, []byte(`{"channel":"mark","symbol":"BTCUSDT","price":"50123.5"}`))
	feed.OnMessage(ctx, []byte(`{"channel":"funding","symbol":"BTCUSDT","rate":"-0.0001"}`))
	feed.OnMessage(ctx, []byte(`{"channel":"candle","symbol":"BTCUSDT","open_time_ms":1714521600000,"open":"50000","high":"50200","low":"49900","close":"50100","volume":"12.5","roc":"0.002"}`))

	if got := sink.marks["BTCUSDT"]; !got.Equal(decimal.RequireFromString("50123.5")) {
		t.Errorf("mark = %s, want 50123.5", got)
	}
	if got := sink.rates["BTCUSDT"]; !got.Equal(decimal.RequireFromString("-0.0001")) {
		t.Errorf("rate = %s, want -0.0001", got)
	}

	since := map[string]time.Time{"BTCUSDT": {}}
	got, err := bars.Candles(ctx, []string{"BTCUSDT"}, since, "1m")
	if err != nil {
		t.Fatal(err)
	}
	if len(got["BTCUSDT"]) != 1 {
		t.Fatalf("bars = %d, want 1", len(got["BTCUSDT"]))
	}
	bar := got["BTCUSDT"][0]
	if !bar.Close.Equal(decimal.RequireFromString("50100")) {
		t.Errorf("close = %s, want 50100", bar.Close)
	}
	if bar.OpenTime != time.UnixMilli(1714521600000).UTC() {
		t.Errorf("open time = %s", bar.OpenTime)
	}
}

func TestMarkFeed_IgnoresJunk(t *testing.T) {
	sink := newRecordedMarks()
	feed := NewMarkFeed("wss://example/ws", []string{"BTCUSDT"}, "1m", sink, nil)
	ctx := context.Background()

	feed.OnMessage(ctx, []byte(`not json`))
	feed.OnMessage(ctx, []byte(`{"channel":"mark","symbol":"BTCUSDT","price":"0"}`))
	feed.OnMessage(ctx, []byte(`{"channel":"mark","price":"100"}`))
	feed.OnMessage(ctx, []byte(`{"channel":"subscribed","args":[]}`))
	feed.OnMessage(ctx, []byte(`{"channel":"candle","symbol":"BTCUSDT","open_time_ms":1714521600000}`))

	if len(sink.marks) != 0 || len(sink.rates) != 0 {
		t.Errorf("junk frames reached the sink: %v %v", sink.marks, sink.rates)
	}
}

func TestMarkFeed_Heartbeat(t *testing.T) {
	feed := NewMarkFeed("wss://example/ws", nil, "1m", newRecordedMarks(), nil)
	if string(feed.Heartbeat()) != "ping" {
		t.Errorf("heartbeat = %q", feed.Heartbeat())
	}
	if !feed.IsHeartbeatAck([]byte("pong")) {
		t.Error("pong not recognized as ack")
	}
	if feed.IsHeartbeatAck([]byte(`{"channel":"mark"}`)) {
		t.Error("data frame treated as ack")
	}
}
