package canon

import "testing"

func withQuotes(quotes []string, fn func()) {
	prev := binanceQuotes.quotes
	binanceQuotes.quotes = sortedQuotes(quotes)
	defer func() { binanceQuotes.quotes = prev }()
	fn()
}

func TestCanonicalizeBinance(t *testing.T) {
	withQuotes([]string{"usdt", "btc", "eth", "usd"}, func() {
		got, ok := CanonicalPair("binance", "btcusdt")
		if !ok || got != "BTC-USDT" {
			t.Fatalf("got %q, %v", got, ok)
		}
	})
}

func TestCanonicalizeBinanceLongestQuoteFirst(t *testing.T) {
	// "ethbtc" contains two listed quotes, "eth" and "btc", but only "btc" is
	// a suffix, so the split is ETH-BTC.
	withQuotes([]string{"usdt", "btc", "eth"}, func() {
		got, ok := CanonicalPair("binance", "ethbtc")
		if !ok || got != "ETH-BTC" {
			t.Fatalf("got %q, %v", got, ok)
		}
	})
	// "busd" and "usd" are both suffixes of "ethbusd"; the longer one must
	// win even when the list is supplied shortest first.
	withQuotes([]string{"usd", "busd"}, func() {
		got, ok := CanonicalPair("binance", "ethbusd")
		if !ok || got != "ETH-BUSD" {
			t.Fatalf("got %q, %v", got, ok)
		}
	})
}

func TestCanonicalizeBinanceEmptyBaseRejected(t *testing.T) {
	withQuotes([]string{"usdt"}, func() {
		if _, ok := CanonicalPair("binance", "usdt"); ok {
			t.Fatal("expected empty base to be rejected")
		}
	})
}

func TestCanonicalizeCoinbaseVariants(t *testing.T) {
	for _, raw := range []string{"btc-usd", "BTC-USD", "btc_usd", "btcusd"} {
		got, ok := CanonicalPair("coinbase", raw)
		if !ok || got != "BTC-USD" {
			t.Fatalf("%q: got %q, %v", raw, got, ok)
		}
	}
}

func TestUnknownVenue(t *testing.T) {
	if _, ok := CanonicalPair("kraken", "btcusd"); ok {
		t.Fatal("expected unknown venue to fail")
	}
}

func TestCanonicalizationIsStableAndIdempotent(t *testing.T) {
	// Coinbase-style venues already use an explicit separator, so feeding a
	// canonical BASE-QUOTE string back through produces the same canonical.
	c, ok := CanonicalPair("coinbase", "btc-usd")
	if !ok {
		t.Fatal("expected ok")
	}
	c2, ok2 := CanonicalPair("coinbase", c)
	if !ok2 || c2 != c {
		t.Fatalf("re-canonicalizing %q produced %q, %v", c, c2, ok2)
	}
}
