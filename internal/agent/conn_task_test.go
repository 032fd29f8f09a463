package agent

import (
	"encoding/json"
	"testing"
	"time"

	"crossspread-md-ingest/internal/venue"
)

func newTestTask() (*ConnTask, chan string) {
	out := make(chan string, 8)
	shutdown := make(chan struct{})
	symbols := make(chan []string, 1)
	task := NewConnTask(venue.Binance, out, shutdown, symbols)
	return task, out
}

func TestHandleBinanceFrameEmitsCanonicalTrade(t *testing.T) {
	task, out := newTestTask()
	frame := []byte(`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","t":42,"p":"50000","q":"0.1","T":1000}}`)

	task.handleFrame(frame)

	select {
	case line := <-out:
		var e struct {
			Agent string `json:"agent"`
			Type  string `json:"type"`
			S     string `json:"s"`
			T     int64  `json:"t"`
			P     string `json:"p"`
		}
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if e.Agent != "binance" || e.Type != "trade" || e.T != 42 || e.P != "50000" {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emitted trade")
	}
}

func TestHandleBinanceFrameMalformedJSONIsDropped(t *testing.T) {
	task, out := newTestTask()
	task.handleFrame([]byte("not json"))

	select {
	case line := <-out:
		t.Fatalf("expected no emitted event, got %s", line)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSequenceGapAccounting(t *testing.T) {
	task, _ := newTestTask()
	task.checkSequenceGap("BTC-USDT", 1)
	task.checkSequenceGap("BTC-USDT", 2)
	task.checkSequenceGap("BTC-USDT", 5) // gap of 2 (3, 4 missing)

	if task.lastTradeID["BTC-USDT"] != 5 {
		t.Fatalf("expected last id to advance to 5, got %d", task.lastTradeID["BTC-USDT"])
	}
}

func TestHandleBinanceFrameRoutesBookTickerSeparately(t *testing.T) {
	task, out := newTestTask()
	frame := []byte(`{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"49999","B":"1.5","a":"50001","A":"2.0"}}`)

	task.handleFrame(frame)

	select {
	case line := <-out:
		var e struct {
			Type string `json:"type"`
			S    string `json:"s"`
			BP   string `json:"bp"`
			AP   string `json:"ap"`
		}
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if e.Type != "book_ticker" || e.BP != "49999" || e.AP != "50001" {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emitted book_ticker")
	}
}

// recordingWriter is a wsWriter that records every frame it is asked to
// write, so subscribeSymbols/unsubscribeSymbols can be tested without a
// live websocket connection.
type recordingWriter struct {
	frames []any
}

func (w *recordingWriter) WriteJSON(v any) error {
	w.frames = append(w.frames, v)
	return nil
}

func TestSubscribeSymbolsEmptyIsNoOp(t *testing.T) {
	task, _ := newTestTask()
	w := &recordingWriter{}

	if err := task.subscribeSymbols(w, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.frames) != 0 {
		t.Fatalf("expected no frames written for an empty symbol set, got %d", len(w.frames))
	}
}

func TestUnsubscribeSymbolsEmptyIsNoOp(t *testing.T) {
	task, _ := newTestTask()
	w := &recordingWriter{}

	if err := task.unsubscribeSymbols(w, []string{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.frames) != 0 {
		t.Fatalf("expected no frames written for an empty symbol set, got %d", len(w.frames))
	}
}

func TestSubscribeSymbolsSendsBinanceStreamNames(t *testing.T) {
	task, _ := newTestTask()
	w := &recordingWriter{}

	if err := task.subscribeSymbols(w, []string{"btcusdt"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(w.frames))
	}
	frame, ok := w.frames[0].(map[string]any)
	if !ok {
		t.Fatalf("expected a map frame, got %T", w.frames[0])
	}
	if frame["method"] != "SUBSCRIBE" {
		t.Fatalf("expected SUBSCRIBE method, got %v", frame["method"])
	}
	params, ok := frame["params"].([]string)
	if !ok || len(params) != 2 {
		t.Fatalf("expected trade+bookTicker stream names, got %v", frame["params"])
	}
}
