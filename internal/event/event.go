// Package event defines the canonical wire schema all agents emit onto and
// the Canonicalizer Process and Sink consume from.
package event

import "encoding/json"

// Level is a single price/quantity pair as carried in l2_diff and snapshot
// payloads. Both fields are normalized decimal strings (internal/decimal).
type Level [2]string

// Event is the canonical tagged union. Every event carries Agent, Type, S,
// and TS; the remaining fields are populated according to Type and left zero
// otherwise, which is why every type-specific field carries omitempty — the
// wire format is a flat object, not a nested variant.
type Event struct {
	Agent string `json:"agent"`
	Type  string `json:"type"`
	S     string `json:"s"`
	TS    int64  `json:"ts"`

	// trade
	T    *int64 `json:"t,omitempty"`
	P    string `json:"p,omitempty"`
	Q    string `json:"q,omitempty"`
	Skew int64  `json:"skew,omitempty"`

	// book_ticker
	BP string `json:"bp,omitempty"`
	BQ string `json:"bq,omitempty"`
	AP string `json:"ap,omitempty"`
	AQ string `json:"aq,omitempty"`

	// l2_diff / snapshot
	Bids []Level `json:"bids,omitempty"`
	Asks []Level `json:"asks,omitempty"`

	// candle
	I string `json:"i,omitempty"`
	O string `json:"o,omitempty"`
	H string `json:"h,omitempty"`
	L string `json:"l,omitempty"`
	C string `json:"c,omitempty"`
	V string `json:"v,omitempty"`

	// funding
	R string `json:"r,omitempty"`

	// open_interest
	OI string `json:"oi,omitempty"`

	// liquidation
	Side string `json:"side,omitempty"`

	// term (basis)
	B string `json:"b,omitempty"`

	// option_chain
	Expiry  string            `json:"expiry,omitempty"`
	Options []json.RawMessage `json:"options,omitempty"`
	Surface []json.RawMessage `json:"surface,omitempty"`
}

// Type tags. Candle, ticker, and the account/options variants are optional
// extensions; the core scope is Trade, BookTicker, L2Diff, and Snapshot plus
// the aggregated MarkPrice/Funding/OpenInterest/Liquidation streams.
const (
	TypeTrade         = "trade"
	TypeBookTicker    = "book_ticker"
	TypeL2Diff        = "l2_diff"
	TypeSnapshot      = "snapshot"
	TypeCandle        = "candle"
	TypeTicker        = "ticker"
	TypeMarkPrice     = "mark_price"
	TypeFunding       = "funding"
	TypeOpenInterest  = "open_interest"
	TypeLiquidation   = "liquidation"
	TypeTerm          = "term"
	TypeOptionChain   = "option_chain"
)

// Trade builds a canonical trade event. tradeID is nil when the venue
// supplied no id or a non-positive one, per the sequence-gap invariant that
// missing/invalid ids never participate in gap accounting.
func Trade(agent, symbol string, ts int64, tradeID *int64, price, qty string, skewMS int64) Event {
	return Event{Agent: agent, Type: TypeTrade, S: symbol, TS: ts, T: tradeID, P: price, Q: qty, Skew: skewMS}
}

// BookTicker builds a canonical best-bid/best-ask event.
func BookTicker(agent, symbol string, ts int64, bidPrice, bidQty, askPrice, askQty string) Event {
	return Event{Agent: agent, Type: TypeBookTicker, S: symbol, TS: ts, BP: bidPrice, BQ: bidQty, AP: askPrice, AQ: askQty}
}

// L2Diff builds a canonical incremental order-book update. A level with
// quantity "0" instructs the receiver to remove that price.
func L2Diff(agent, symbol string, ts int64, bids, asks []Level) Event {
	return Event{Agent: agent, Type: TypeL2Diff, S: symbol, TS: ts, Bids: bids, Asks: asks}
}

// Snapshot builds a canonical full order-book replacement.
func Snapshot(agent, symbol string, ts int64, bids, asks []Level) Event {
	return Event{Agent: agent, Type: TypeSnapshot, S: symbol, TS: ts, Bids: bids, Asks: asks}
}

// Candle builds a canonical OHLCV bar. Interval is carried as an integer
// count of seconds rendered as a decimal string (see DESIGN.md for the
// legacy-string-interval vs integer-seconds decision).
func Candle(agent, symbol string, ts int64, intervalSeconds, open, high, low, close, volume string) Event {
	return Event{Agent: agent, Type: TypeCandle, S: symbol, TS: ts, I: intervalSeconds, O: open, H: high, L: low, C: close, V: volume}
}

// Ticker builds a canonical 24h ticker event.
func Ticker(agent, symbol string, ts int64, price, volume string) Event {
	return Event{Agent: agent, Type: TypeTicker, S: symbol, TS: ts, P: price, V: volume}
}

// MarkPrice builds a canonical mark-price event.
func MarkPrice(agent, symbol string, ts int64, price string) Event {
	return Event{Agent: agent, Type: TypeMarkPrice, S: symbol, TS: ts, P: price}
}

// Funding builds a canonical funding-rate event.
func Funding(agent, symbol string, ts int64, rate string) Event {
	return Event{Agent: agent, Type: TypeFunding, S: symbol, TS: ts, R: rate}
}

// OpenInterest builds a canonical open-interest event.
func OpenInterest(agent, symbol string, ts int64, oi string) Event {
	return Event{Agent: agent, Type: TypeOpenInterest, S: symbol, TS: ts, OI: oi}
}

// Liquidation builds a canonical liquidation event. side is venue-supplied,
// typically "buy" or "sell".
func Liquidation(agent, symbol string, ts int64, price, qty, side string) Event {
	return Event{Agent: agent, Type: TypeLiquidation, S: symbol, TS: ts, P: price, Q: qty, Side: side}
}

// Term builds a canonical futures-basis event.
func Term(agent, symbol string, ts int64, basis string) Event {
	return Event{Agent: agent, Type: TypeTerm, S: symbol, TS: ts, B: basis}
}
