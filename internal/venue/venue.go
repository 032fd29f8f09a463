// Package venue describes the static shape of a market-data venue: its
// websocket base URL, stream-naming convention, and the sharding limits a
// Venue Agent uses to partition a symbol set across Connection Tasks.
package venue

import (
	"fmt"
	"strings"
)

// Class distinguishes the two symbol-naming conventions the canonicalizer
// understands: prefix/suffix venues (Binance-style combined streams) and
// explicit-separator venues (Coinbase-style channel subscriptions).
type Class int

const (
	ClassBinance Class = iota
	ClassCoinbase
)

// Venue is the static configuration for one market-data source.
type Venue struct {
	Name              string
	Class             Class
	WSBase            string
	MaxStreamsPerConn int
	StreamsPerSymbol  int

	// RestURL is the historical-data REST base used by the Backfill Client
	// (internal/backfill) for funding-rate and open-interest paging. Empty
	// means this venue has no backfillable endpoint in this implementation.
	RestURL string
}

// Binance is the default Binance configuration: the spot combined-stream
// websocket host, grounded on the teacher's binance.go wsBaseURL, with
// RestURL pointing at the USDⓈ-M Futures REST API that serves the
// funding-rate and open-interest history endpoints. Each
// symbol carries two streams — trade and book ticker — so the order-book
// store's best-bid/ask side has a live producer.
var Binance = Venue{
	Name:              "binance",
	Class:             ClassBinance,
	WSBase:            "wss://stream.binance.com:9443",
	MaxStreamsPerConn: 200,
	StreamsPerSymbol:  2,
	RestURL:           "https://fapi.binance.com",
}

// Coinbase is the default Coinbase Advanced Trade websocket configuration.
// Coinbase's Advanced Trade API exposes no funding-rate or open-interest
// history endpoint shaped like Binance's paged futures REST API, so RestURL
// is left empty and the Venue Agent never spawns a Backfill Client for it.
var Coinbase = Venue{
	Name:              "coinbase",
	Class:             ClassCoinbase,
	WSBase:            "wss://advanced-trade-ws.coinbase.com",
	MaxStreamsPerConn: 200,
	StreamsPerSymbol:  1,
}

// Known returns the built-in Venue for name, and false if name is not a
// recognized venue.
func Known(name string) (Venue, bool) {
	switch strings.ToLower(name) {
	case "binance":
		return Binance, true
	case "coinbase":
		return Coinbase, true
	default:
		return Venue{}, false
	}
}

// MaxSymbolsPerConn is the number of symbols a single Connection Task can
// carry given the venue's per-connection stream budget.
func (v Venue) MaxSymbolsPerConn() int {
	if v.StreamsPerSymbol <= 0 {
		return v.MaxStreamsPerConn
	}
	return v.MaxStreamsPerConn / v.StreamsPerSymbol
}

// Chunk partitions symbols into shards no larger than the venue's
// per-connection symbol budget, preserving input order.
func Chunk(symbols []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var chunks [][]string
	for len(symbols) > 0 {
		n := size
		if n > len(symbols) {
			n = len(symbols)
		}
		chunks = append(chunks, append([]string(nil), symbols[:n]...))
		symbols = symbols[n:]
	}
	return chunks
}

// StreamName returns the venue-specific lowercase trade-stream identifier
// for a raw (not canonical) symbol, e.g. "btcusdt@trade" for Binance.
func StreamName(v Venue, rawSymbol string) string {
	switch v.Class {
	case ClassBinance:
		return strings.ToLower(rawSymbol) + "@trade"
	default:
		return strings.ToLower(rawSymbol)
	}
}

// BookTickerStreamName returns the venue-specific best-bid/best-ask stream
// identifier for a raw symbol, or "" if the venue's combined-stream
// endpoint has no per-symbol book-ticker channel in this implementation.
// Only Binance is wired; Coinbase's "ticker" channel carries a different
// (24h) shape and is out of scope.
func BookTickerStreamName(v Venue, rawSymbol string) string {
	if v.Class != ClassBinance {
		return ""
	}
	return strings.ToLower(rawSymbol) + "@bookTicker"
}

// StreamsFor returns every stream identifier one symbol contributes to a
// venue's combined connection: trade plus book ticker for Binance, the bare
// channel name for Coinbase. Callers use this both to build the initial
// connection URL and to compute incremental subscribe/unsubscribe frames.
func StreamsFor(v Venue, rawSymbol string) []string {
	streams := []string{StreamName(v, rawSymbol)}
	if bt := BookTickerStreamName(v, rawSymbol); bt != "" {
		streams = append(streams, bt)
	}
	return streams
}

// BuildWSURL builds the combined-stream connection URL for a shard of raw
// symbols, per the venue's class-specific convention.
func BuildWSURL(v Venue, rawSymbols []string) string {
	switch v.Class {
	case ClassBinance:
		var streams []string
		for _, s := range rawSymbols {
			streams = append(streams, StreamsFor(v, s)...)
		}
		return fmt.Sprintf("%s/stream?streams=%s", v.WSBase, strings.Join(streams, "/"))
	default:
		// Coinbase-style venues subscribe over a single shared socket via a
		// JSON subscribe frame rather than a URL query string; the base URL
		// is dialed as-is and ConnTask sends the subscribe message.
		return v.WSBase
	}
}

// Diff computes the added and removed elements of new relative to old,
// preserving new's order in added and old's order in removed. Used both to
// drive incremental subscribe/unsubscribe on a live Connection Task (§4.D)
// and to decide which symbols are newly in-scope for historical backfill
// (§4.E step 4).
func Diff(old, new []string) (added, removed []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, s := range old {
		oldSet[s] = struct{}{}
	}
	newSet := make(map[string]struct{}, len(new))
	for _, s := range new {
		newSet[s] = struct{}{}
	}
	for _, s := range new {
		if _, ok := oldSet[s]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range old {
		if _, ok := newSet[s]; !ok {
			removed = append(removed, s)
		}
	}
	return added, removed
}
