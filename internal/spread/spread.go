// Package spread implements the cross-venue arbitrage analytics core: a
// single-writer per-symbol price table that emits a SpreadEvent whenever the
// best buy/sell gap for a symbol reaches a configured threshold.
package spread

import (
	"context"

	shopspring "github.com/shopspring/decimal"

	"crossspread-md-ingest/internal/decimal"
	"crossspread-md-ingest/internal/metrics"
)

// Trade is the minimal input the analytics core needs from a canonical
// trade event.
type Trade struct {
	Agent       string
	Symbol      string
	Price       string // decimal string
	TimestampMS int64
}

// Event is emitted when the best cross-venue spread for a symbol meets or
// exceeds the configured threshold.
type Event struct {
	Symbol       string
	BuyExchange  string
	SellExchange string
	Spread       string // decimal string
	TimestampMS  int64
}

// Discovery owns the price table exclusively; all reads and writes happen
// on the goroutine started by Run, matching the single-writer contract.
type Discovery struct {
	threshold shopspring.Decimal
	prices    map[string]map[string]shopspring.Decimal
	// arrival tracks, per symbol, the order in which venues first quoted it.
	// handleTrade iterates this instead of ranging prices[symbol] directly
	// so that a tie between two venues' prices is broken by which venue
	// arrived first, not by Go's randomized map iteration order.
	arrival map[string][]string

	subCh    chan chan Event
	unsubCh  chan chan Event
	subs     map[chan Event]struct{}
	capacity int
}

// New constructs a Discovery with the given threshold, a decimal string
// compared against the raw spread (sell price minus buy price). An invalid
// threshold string is treated as zero, meaning every multi-venue symbol
// emits — callers should validate configuration before reaching this point.
func New(threshold string) *Discovery {
	t, ok := decimal.Parsed(threshold)
	if !ok {
		t = shopspring.Zero
	}
	return &Discovery{
		threshold: t,
		prices:    make(map[string]map[string]shopspring.Decimal),
		arrival:   make(map[string][]string),
		subCh:     make(chan chan Event),
		unsubCh:   make(chan chan Event),
		subs:      make(map[chan Event]struct{}),
		capacity:  100,
	}
}

// Subscribe registers a new bounded-capacity receiver of SpreadEvents. The
// returned channel must be read by the caller; once full, further publishes
// to it are dropped rather than blocking the writer task
// (stream_dropped_total is incremented per drop). Pass the same channel to
// Unsubscribe to stop receiving.
func (d *Discovery) Subscribe() chan Event {
	ch := make(chan Event, d.capacity)
	d.subCh <- ch
	return ch
}

// Unsubscribe removes a previously subscribed channel and closes it.
func (d *Discovery) Unsubscribe(ch chan Event) {
	d.unsubCh <- ch
}

// Run is the single-writer task: it owns prices and subs exclusively and
// must be launched exactly once, in its own goroutine. It returns when in is
// closed or ctx is done.
func (d *Discovery) Run(ctx context.Context, in <-chan Trade) {
	defer func() {
		for sub := range d.subs {
			close(sub)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-d.subCh:
			if !ok {
				return
			}
			d.subs[ch] = struct{}{}
		case ch := <-d.unsubCh:
			if _, ok := d.subs[ch]; ok {
				delete(d.subs, ch)
				close(ch)
			}
		case trade, ok := <-in:
			if !ok {
				return
			}
			d.handleTrade(trade)
		}
	}
}

func (d *Discovery) handleTrade(trade Trade) {
	price, ok := decimal.Parsed(trade.Price)
	if !ok {
		return
	}

	entry, ok := d.prices[trade.Symbol]
	if !ok {
		entry = make(map[string]shopspring.Decimal)
		d.prices[trade.Symbol] = entry
	}
	if _, seen := entry[trade.Agent]; !seen {
		d.arrival[trade.Symbol] = append(d.arrival[trade.Symbol], trade.Agent)
	}
	entry[trade.Agent] = price

	if len(entry) < 2 {
		return
	}

	var buyEx, sellEx string
	var buyP, sellP shopspring.Decimal
	first := true
	for _, ex := range d.arrival[trade.Symbol] {
		p := entry[ex]
		if first || p.Cmp(buyP) < 0 {
			buyEx, buyP = ex, p
		}
		if first || p.Cmp(sellP) > 0 {
			sellEx, sellP = ex, p
		}
		first = false
	}

	spreadAmt := sellP.Sub(buyP)
	if spreadAmt.Cmp(d.threshold) < 0 {
		return
	}

	ev := Event{
		Symbol:       trade.Symbol,
		BuyExchange:  buyEx,
		SellExchange: sellEx,
		Spread:       spreadAmt.String(),
		TimestampMS:  trade.TimestampMS,
	}
	d.publish(ev, spreadAmt, buyP)
}

func (d *Discovery) publish(ev Event, spreadAmt, buyP shopspring.Decimal) {
	spreadBps := 0.0
	if !buyP.IsZero() {
		spreadBps, _ = spreadAmt.Div(buyP).Mul(shopspring.NewFromInt(10000)).Float64()
	}
	// No per-venue depth/liquidity model is in scope, so slippage is
	// reported as the spread itself rather than a fabricated estimate.
	metrics.RecordSpread(ev.Symbol, ev.BuyExchange, ev.SellExchange, spreadBps, spreadBps)
	for sub := range d.subs {
		select {
		case sub <- ev:
		default:
			metrics.StreamDropped.WithLabelValues("analytics", ev.Symbol).Inc()
		}
	}
}
