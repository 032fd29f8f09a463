// Package orderbook reconstructs per-symbol L2 order books from canonical
// snapshot and incremental-diff events.
package orderbook

import (
	"encoding/json"
	"sort"
	"sync"

	"crossspread-md-ingest/internal/decimal"
	"crossspread-md-ingest/internal/event"
)

// Level is a decoded, decimal-normalized price/quantity pair.
type Level struct {
	Price string
	Qty   string
}

// side holds one half of a book as a price->qty map plus a price-sorted
// index. No pack dependency offers an ordered-map container (the Rust
// original uses BTreeMap<OrderedFloat<f64>, f64>, for which there is no
// third-party Go analogue among the examples), so the sorted index is
// maintained by hand with decimal.Compare as the ordering function; see
// DESIGN.md for the standard-library justification.
type side struct {
	qty   map[string]string
	order []string // sorted ascending by decimal.Compare
	desc  bool     // true for bids: best is the maximum
}

func newSide(desc bool) *side {
	return &side{qty: make(map[string]string), desc: desc}
}

func (s *side) clear() {
	s.qty = make(map[string]string)
	s.order = s.order[:0]
}

func (s *side) upsert(price, qty string) {
	if decimal.IsZero(qty) {
		s.remove(price)
		return
	}
	if _, exists := s.qty[price]; !exists {
		i := sort.Search(len(s.order), func(i int) bool { return decimal.Compare(s.order[i], price) >= 0 })
		s.order = append(s.order, "")
		copy(s.order[i+1:], s.order[i:])
		s.order[i] = price
	}
	s.qty[price] = qty
}

func (s *side) remove(price string) {
	if _, exists := s.qty[price]; !exists {
		return
	}
	delete(s.qty, price)
	i := sort.Search(len(s.order), func(i int) bool { return decimal.Compare(s.order[i], price) >= 0 })
	if i < len(s.order) && s.order[i] == price {
		s.order = append(s.order[:i], s.order[i+1:]...)
	}
}

// best returns the side's best level: the last (maximum) entry for bids, the
// first (minimum) entry for asks.
func (s *side) best() (Level, bool) {
	if len(s.order) == 0 {
		return Level{}, false
	}
	if s.desc {
		p := s.order[len(s.order)-1]
		return Level{Price: p, Qty: s.qty[p]}, true
	}
	p := s.order[0]
	return Level{Price: p, Qty: s.qty[p]}, true
}

func (s *side) levels() []Level {
	out := make([]Level, 0, len(s.order))
	if s.desc {
		for i := len(s.order) - 1; i >= 0; i-- {
			p := s.order[i]
			out = append(out, Level{Price: p, Qty: s.qty[p]})
		}
		return out
	}
	for _, p := range s.order {
		out = append(out, Level{Price: p, Qty: s.qty[p]})
	}
	return out
}

// Book is a single symbol's reconstructed order book.
type Book struct {
	mu   sync.RWMutex
	bids *side
	asks *side
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{bids: newSide(true), asks: newSide(false)}
}

// ApplySnapshot clears both sides and inserts every provided level, ignoring
// levels that fail to normalize as a decimal. A snapshot is authoritative and
// always wins over any pending diffs observed before it.
func (b *Book) ApplySnapshot(bids, asks []event.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids.clear()
	b.asks.clear()
	applyLevels(b.bids, bids)
	applyLevels(b.asks, asks)
}

// ApplyL2Diff overwrites or removes levels on each side; a level whose
// quantity parses to zero removes that price key.
func (b *Book) ApplyL2Diff(bids, asks []event.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	applyLevels(b.bids, bids)
	applyLevels(b.asks, asks)
}

// ApplyBookTicker upserts the single best bid and ask level, using the same
// zero-quantity-removes rule as ApplyL2Diff.
func (b *Book) ApplyBookTicker(bidPrice, bidQty, askPrice, askQty string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := decimal.Normalize(bidPrice); ok {
		if q, ok := decimal.Normalize(bidQty); ok {
			b.bids.upsert(p, q)
		}
	}
	if p, ok := decimal.Normalize(askPrice); ok {
		if q, ok := decimal.Normalize(askQty); ok {
			b.asks.upsert(p, q)
		}
	}
}

func applyLevels(s *side, levels []event.Level) {
	for _, lvl := range levels {
		p, ok := decimal.Normalize(lvl[0])
		if !ok {
			continue
		}
		q, ok := decimal.Normalize(lvl[1])
		if !ok {
			continue
		}
		s.upsert(p, q)
	}
}

// BestBid returns the maximum bid level.
func (b *Book) BestBid() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.best()
}

// BestAsk returns the minimum ask level.
func (b *Book) BestAsk() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.best()
}

// Bids returns all bid levels, best (highest) first.
func (b *Book) Bids() []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.levels()
}

// Asks returns all ask levels, best (lowest) first.
func (b *Book) Asks() []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.levels()
}

// Crossed reports whether best_bid > best_ask. A crossed book is a soft
// invariant violation: callers emit it as-is but should flag it (e.g. via a
// metric) rather than reject the update.
func (b *Book) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return false
	}
	return decimal.Compare(bid.Price, ask.Price) > 0
}

// Store keeps one Book per canonical symbol.
type Store struct {
	mu    sync.Mutex
	books map[string]*Book
}

// NewStore returns an empty symbol-keyed book store.
func NewStore() *Store {
	return &Store{books: make(map[string]*Book)}
}

// Book returns (creating if necessary) the book for symbol.
func (s *Store) Book(symbol string) *Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[symbol]
	if !ok {
		b = NewBook()
		s.books[symbol] = b
	}
	return b
}

// ApplyLine decodes a canonical event line and applies it to the
// appropriate symbol's book if its type is one the book store understands.
// Malformed JSON or an unrecognized type is a silent no-op, mirroring the
// canonicalizer's passthrough-on-failure stance: the book store is a
// best-effort downstream consumer, not a gate on the stream. Returns the
// event's agent/symbol and whether the line was actually applied, so
// callers can attach depth/best-price metrics without re-parsing the line.
func (s *Store) ApplyLine(line []byte) (agent, symbol string, applied bool) {
	var e event.Event
	if err := json.Unmarshal(line, &e); err != nil {
		return "", "", false
	}
	if e.S == "" {
		return "", "", false
	}
	switch e.Type {
	case event.TypeSnapshot:
		s.Book(e.S).ApplySnapshot(e.Bids, e.Asks)
	case event.TypeL2Diff:
		s.Book(e.S).ApplyL2Diff(e.Bids, e.Asks)
	case event.TypeBookTicker:
		s.Book(e.S).ApplyBookTicker(e.BP, e.BQ, e.AP, e.AQ)
	default:
		return "", "", false
	}
	return e.Agent, e.S, true
}
