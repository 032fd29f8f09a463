package venue

import "testing"

func TestChunkPartitionsPreservingOrder(t *testing.T) {
	symbols := []string{"a", "b", "c", "d", "e"}
	chunks := Chunk(symbols, 2)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0][0] != "a" || chunks[0][1] != "b" {
		t.Fatalf("unexpected first chunk: %v", chunks[0])
	}
	if chunks[2][0] != "e" {
		t.Fatalf("unexpected last chunk: %v", chunks[2])
	}
}

func TestChunkEmptyInput(t *testing.T) {
	if chunks := Chunk(nil, 5); len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty input, got %v", chunks)
	}
}

func TestBuildWSURLBinanceCombinesStreams(t *testing.T) {
	url := BuildWSURL(Binance, []string{"btcusdt", "ethusdt"})
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@trade/btcusdt@bookTicker/ethusdt@trade/ethusdt@bookTicker"
	if url != want {
		t.Fatalf("got %q, want %q", url, want)
	}
}

func TestStreamsForBinanceIncludesBookTicker(t *testing.T) {
	streams := StreamsFor(Binance, "BTCUSDT")
	want := []string{"btcusdt@trade", "btcusdt@bookTicker"}
	if len(streams) != len(want) || streams[0] != want[0] || streams[1] != want[1] {
		t.Fatalf("got %v, want %v", streams, want)
	}
}

func TestStreamsForCoinbaseIsTradeOnly(t *testing.T) {
	streams := StreamsFor(Coinbase, "BTC-USD")
	if len(streams) != 1 || streams[0] != "btc-usd" {
		t.Fatalf("got %v, want single lowercase channel name", streams)
	}
}

func TestDiffComputesAddedAndRemoved(t *testing.T) {
	added, removed := Diff([]string{"a", "b", "c"}, []string{"b", "c", "d"})
	if len(added) != 1 || added[0] != "d" {
		t.Fatalf("unexpected added: %v", added)
	}
	if len(removed) != 1 || removed[0] != "a" {
		t.Fatalf("unexpected removed: %v", removed)
	}
}

func TestDiffNoChange(t *testing.T) {
	added, removed := Diff([]string{"a", "b"}, []string{"a", "b"})
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("expected no diff, got added=%v removed=%v", added, removed)
	}
}

func TestKnownVenue(t *testing.T) {
	if _, ok := Known("kraken"); ok {
		t.Fatal("expected unknown venue to report false")
	}
	if v, ok := Known("BINANCE"); !ok || v.Name != "binance" {
		t.Fatalf("expected case-insensitive binance lookup, got %+v, %v", v, ok)
	}
}
