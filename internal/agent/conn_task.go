package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"crossspread-md-ingest/internal/decimal"
	"crossspread-md-ingest/internal/event"
	"crossspread-md-ingest/internal/metrics"
	"crossspread-md-ingest/internal/venue"
)

// wsFrame is a single decoded inbound websocket frame handed from the read
// pump goroutine to the task's select loop.
type wsFrame struct {
	data []byte
	err  error
}

// ConnTask is a single websocket worker responsible for one shard of a
// venue's symbol set: the Connection Task of the ingestion design. It
// multiplexes shutdown, a live symbol-set watch, and inbound frames in one
// select loop, ported from the Rust agent's tokio::select! race and the
// teacher's websocket dial/readLoop mechanics.
type ConnTask struct {
	Venue                    venue.Venue
	MaxReconnectDelaySeconds int
	Out                      chan<- string
	Shutdown                 <-chan struct{}
	Symbols                  <-chan []string

	mu          sync.Mutex
	state       State
	lastTradeID map[string]int64
	reqID       int64 // Binance SUBSCRIBE/UNSUBSCRIBE control-frame id, monotonic
}

// NewConnTask constructs a Connection Task for v. out is the Supervisor's
// bounded fan-in channel; shutdown is the process-wide shutdown broadcast
// (closed to signal); symbols is the capacity-1 "last-value-wins" watch
// channel the owning Venue Agent refills on reconciliation.
func NewConnTask(v venue.Venue, out chan<- string, shutdown <-chan struct{}, symbols <-chan []string) *ConnTask {
	return &ConnTask{
		Venue:                    v,
		MaxReconnectDelaySeconds: 30,
		Out:                      out,
		Shutdown:                 shutdown,
		Symbols:                  symbols,
		lastTradeID:              make(map[string]int64),
	}
}

func (c *ConnTask) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the task's current lifecycle stage.
func (c *ConnTask) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run drives the full Idle -> ... -> Stopped lifecycle until Shutdown
// closes. It never returns an error for ordinary transport/protocol
// failures — those are counted and retried locally, per the spec's error
// propagation policy.
func (c *ConnTask) Run(ctx context.Context) error {
	defer c.setState(Stopped)

	var symbols []string
	select {
	case symbols = <-c.Symbols:
	case <-c.Shutdown:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	attempt := 0
	for {
		select {
		case <-c.Shutdown:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if len(symbols) == 0 {
			// An empty shard assignment means the Venue Agent reconciled
			// this shard out of existence; exit cleanly rather than dial.
			return nil
		}

		if attempt > 0 {
			metrics.RecordReconnect(c.Venue.Name)
		}

		c.setState(Connecting)
		url := venue.BuildWSURL(c.Venue, symbols)
		log.Info().Str("agent", c.Venue.Name).Str("url", url).Msg("connecting")

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Error().Str("agent", c.Venue.Name).Err(err).Msg("connect failed")
			metrics.RecordConnectionError(c.Venue.Name, "connect")
			attempt++
			if !c.backoffAndWait(attempt) {
				return nil
			}
			continue
		}

		c.setState(Subscribing)
		if err := c.subscribe(conn, symbols); err != nil {
			log.Error().Str("agent", c.Venue.Name).Err(err).Msg("subscribe failed")
			metrics.RecordConnectionError(c.Venue.Name, "subscribe")
			conn.Close()
			attempt++
			if !c.backoffAndWait(attempt) {
				return nil
			}
			continue
		}

		c.setState(Streaming)
		metrics.RecordConnectionStatus(c.Venue.Name, true)
		metrics.ActiveConnections.WithLabelValues(c.Venue.Name).Inc()
		attempt = 0
		newSymbols, resharded, streamErr := c.streamLoop(ctx, conn, symbols)
		metrics.ActiveConnections.WithLabelValues(c.Venue.Name).Dec()
		metrics.RecordConnectionStatus(c.Venue.Name, false)
		c.setState(Draining)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()

		select {
		case <-c.Shutdown:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if resharded {
			symbols = newSymbols
			continue
		}
		if streamErr == nil {
			// Clean server close; reconnect immediately without backoff growth.
			continue
		}

		log.Error().Str("agent", c.Venue.Name).Err(streamErr).Msg("stream ended")
		metrics.RecordConnectionError(c.Venue.Name, "stream")
		attempt++
		if !c.backoffAndWait(attempt) {
			return nil
		}
	}
}

// backoffAndWait sleeps the reconnect delay for the given attempt count,
// racing the sleep against shutdown. Every failure branch in Run increments
// attempt before calling this, so the delay escalates
// 1,2,4,8,16,16,... seconds (capped by MaxReconnectDelaySeconds) instead of
// holding at the first-attempt delay forever. Returns false if shutdown won
// the race.
func (c *ConnTask) backoffAndWait(attempt int) bool {
	c.setState(Backoff)
	delay := reconnectDelay(attempt, c.MaxReconnectDelaySeconds)
	metrics.BackoffSeconds.WithLabelValues(c.Venue.Name).Add(delay.Seconds())
	log.Info().Str("agent", c.Venue.Name).Dur("delay", delay).Msg("reconnecting")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.Shutdown:
		return false
	}
}

// subscribe sends whatever venue-specific subscription frame is required
// after connecting. Binance's combined-stream URL already encodes the
// subscription, so this is a no-op for that class; Coinbase-style venues
// require an explicit JSON subscribe message.
func (c *ConnTask) subscribe(conn *websocket.Conn, symbols []string) error {
	if c.Venue.Class != venue.ClassCoinbase {
		return nil
	}
	msg := map[string]any{
		"type":        "subscribe",
		"product_ids": symbols,
		"channel":     "market_trades",
	}
	return conn.WriteJSON(msg)
}

// wsWriter is the subset of *websocket.Conn that subscribeSymbols and
// unsubscribeSymbols need, factored out so tests can pass a recorder
// instead of a live socket.
type wsWriter interface {
	WriteJSON(v any) error
}

func (c *ConnTask) nextReqID() int64 {
	return atomic.AddInt64(&c.reqID, 1)
}

// streamNames expands a raw symbol list into every stream identifier each
// symbol contributes (per venue.StreamsFor), for use in a SUBSCRIBE/
// UNSUBSCRIBE control frame.
func streamNames(v venue.Venue, symbols []string) []string {
	var out []string
	for _, s := range symbols {
		out = append(out, venue.StreamsFor(v, s)...)
	}
	return out
}

// subscribeSymbols sends an incremental subscribe control frame for symbols
// newly added to this Connection Task's shard, over the already-open
// connection. An empty symbols list is a no-op: no frame is sent.
func (c *ConnTask) subscribeSymbols(conn wsWriter, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	switch c.Venue.Class {
	case venue.ClassBinance:
		return conn.WriteJSON(map[string]any{
			"method": "SUBSCRIBE",
			"params": streamNames(c.Venue, symbols),
			"id":     c.nextReqID(),
		})
	case venue.ClassCoinbase:
		return conn.WriteJSON(map[string]any{
			"type":        "subscribe",
			"product_ids": symbols,
			"channel":     "market_trades",
		})
	default:
		return nil
	}
}

// unsubscribeSymbols sends an incremental unsubscribe control frame for
// symbols removed from this Connection Task's shard, over the
// already-open connection. An empty symbols list is a no-op: no frame is
// sent, matching the "unsubscribe(∅) is a no-op" property.
func (c *ConnTask) unsubscribeSymbols(conn wsWriter, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	switch c.Venue.Class {
	case venue.ClassBinance:
		return conn.WriteJSON(map[string]any{
			"method": "UNSUBSCRIBE",
			"params": streamNames(c.Venue, symbols),
			"id":     c.nextReqID(),
		})
	case venue.ClassCoinbase:
		return conn.WriteJSON(map[string]any{
			"type":        "unsubscribe",
			"product_ids": symbols,
			"channel":     "market_trades",
		})
	default:
		return nil
	}
}

// streamLoop multiplexes shutdown, live symbol-set changes, and inbound
// frames until one of those ends the connection. A symbol-set update is
// handled incrementally: per §4.D step 2, it computes added/removed against
// the shard's current set and sends one unsubscribe and one subscribe frame
// over the existing connection, without tearing the connection down. The
// only case that forces a reconnect (resharded=true) is the shard being
// reconciled out of existence entirely (an empty update), in which case
// newSymbols is nil and the caller closes this task. err is non-nil if the
// connection failed rather than closed cleanly.
func (c *ConnTask) streamLoop(ctx context.Context, conn *websocket.Conn, symbols []string) (newSymbols []string, resharded bool, err error) {
	current := append([]string(nil), symbols...)

	frames := make(chan wsFrame, 16)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				frames <- wsFrame{err: err}
				return
			}
			frames <- wsFrame{data: data}
		}
	}()

	for {
		select {
		case <-c.Shutdown:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case updated := <-c.Symbols:
			if len(updated) == 0 {
				return nil, true, nil
			}
			added, removed := venue.Diff(current, updated)
			if len(added) == 0 && len(removed) == 0 {
				continue
			}
			if err := c.unsubscribeSymbols(conn, removed); err != nil {
				return nil, false, err
			}
			if err := c.subscribeSymbols(conn, added); err != nil {
				return nil, false, err
			}
			current = updated
			log.Info().Str("agent", c.Venue.Name).Strs("added", added).Strs("removed", removed).Msg("resubscribed shard in place")
		case frame, ok := <-frames:
			if !ok {
				return nil, false, nil
			}
			if frame.err != nil {
				return nil, false, frame.err
			}
			metrics.StreamThroughput.WithLabelValues(c.Venue.Name, "raw").Inc()
			c.handleFrame(frame.data)
		}
	}
}

// binanceCombinedFrame is the envelope Binance's combined-stream endpoint
// wraps every payload in.
type binanceCombinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceTrade struct {
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	TS           int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// binanceBookTicker is the payload shape of Binance's "<symbol>@bookTicker"
// stream: the current best bid/ask, pushed on every change.
type binanceBookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

type coinbaseTradeEnvelope struct {
	Channel string `json:"channel"`
	Events  []struct {
		Trades []struct {
			ProductID string `json:"product_id"`
			TradeID   string `json:"trade_id"`
			Price     string `json:"price"`
			Size      string `json:"size"`
			Time      string `json:"time"`
			Side      string `json:"side"`
		} `json:"trades"`
	} `json:"events"`
}

// handleFrame parses one raw frame and, if it decodes to a trade, emits a
// canonical event onto Out. Parse failures are counted and dropped per the
// spec's Parse error-handling policy; they never tear down the connection.
func (c *ConnTask) handleFrame(data []byte) {
	switch c.Venue.Class {
	case venue.ClassBinance:
		c.handleBinanceFrame(data)
	case venue.ClassCoinbase:
		c.handleCoinbaseFrame(data)
	}
}

func (c *ConnTask) handleBinanceFrame(data []byte) {
	var env binanceCombinedFrame
	if err := json.Unmarshal(data, &env); err != nil || len(env.Data) == 0 {
		metrics.ValidationErrors.WithLabelValues(c.Venue.Name, "decode").Inc()
		return
	}
	if strings.HasSuffix(env.Stream, "@bookTicker") {
		c.handleBinanceBookTicker(env.Data)
		return
	}
	c.handleBinanceTrade(env.Data)
}

func (c *ConnTask) handleBinanceTrade(data json.RawMessage) {
	var t binanceTrade
	if err := json.Unmarshal(data, &t); err != nil {
		metrics.ValidationErrors.WithLabelValues(c.Venue.Name, "decode").Inc()
		return
	}
	side := "buy"
	if t.IsBuyerMaker {
		side = "sell"
	}
	c.emitTrade(t.Symbol, t.TradeID, t.Price, t.Qty, t.TS, side)
}

func (c *ConnTask) handleBinanceBookTicker(data json.RawMessage) {
	var bt binanceBookTicker
	if err := json.Unmarshal(data, &bt); err != nil {
		metrics.ValidationErrors.WithLabelValues(c.Venue.Name, "decode").Inc()
		return
	}
	c.emitBookTicker(bt.Symbol, bt.BidPrice, bt.BidQty, bt.AskPrice, bt.AskQty)
}

func (c *ConnTask) handleCoinbaseFrame(data []byte) {
	var env coinbaseTradeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.ValidationErrors.WithLabelValues(c.Venue.Name, "decode").Inc()
		return
	}
	for _, e := range env.Events {
		for _, tr := range e.Trades {
			var id int64
			if _, err := fmt.Sscanf(tr.TradeID, "%d", &id); err != nil {
				id = 0
			}
			ts := time.Now().UnixMilli()
			if parsed, err := time.Parse(time.RFC3339Nano, tr.Time); err == nil {
				ts = parsed.UnixMilli()
			}
			side := tr.Side
			if side == "" {
				side = "unknown"
			}
			c.emitTrade(tr.ProductID, id, tr.Price, tr.Size, ts, side)
		}
	}
}

// emitTrade normalizes a raw venue trade into the canonical schema:
// canonicalizes the symbol on a best-effort basis (falling back to the raw
// symbol so the event is never dropped), accounts for sequence gaps, and
// annotates latency.
func (c *ConnTask) emitTrade(rawSymbol string, tradeID int64, price, qty string, eventTSMillis int64, side string) {
	timer := metrics.NewTimer()
	symbol := rawSymbol
	if canon, ok := canonicalizeBestEffort(c.Venue.Name, rawSymbol); ok {
		symbol = canon
	}

	var idPtr *int64
	if tradeID > 0 {
		c.checkSequenceGap(symbol, tradeID)
		id := tradeID
		idPtr = &id
	}

	now := time.Now().UnixMilli()
	skew := now - eventTSMillis
	metrics.StreamLatencyMS.WithLabelValues(c.Venue.Name, symbol).Set(float64(now - eventTSMillis))
	metrics.LastTradeTimestamp.WithLabelValues(c.Venue.Name, symbol).Set(float64(eventTSMillis))
	metrics.MessageLatency.WithLabelValues(c.Venue.Name, "trade").Observe(float64(skew) / 1000)
	if vol, ok := decimal.Parsed(qty); ok {
		metrics.RecordTrade(c.Venue.Name, symbol, side, vol.InexactFloat64())
	}

	ev := event.Trade(c.Venue.Name, symbol, eventTSMillis, idPtr, price, qty, skew)
	b, err := json.Marshal(ev)
	if err != nil {
		metrics.ValidationErrors.WithLabelValues(c.Venue.Name, "encode").Inc()
		return
	}

	select {
	case c.Out <- string(b):
		metrics.MessagesIngested.WithLabelValues(c.Venue.Name, "trade").Inc()
	case <-c.Shutdown:
	}
	timer.ObserveDuration(metrics.ProcessingDuration, c.Venue.Name, "trade")
}

// emitBookTicker normalizes a raw best-bid/ask update into the canonical
// book_ticker schema. The Order-Book Store (internal/orderbook), wired in
// downstream of canonicalization, applies it and republishes the teacher's
// md_orderbook_* gauges from the reconstructed book.
func (c *ConnTask) emitBookTicker(rawSymbol string, bidPrice, bidQty, askPrice, askQty string) {
	symbol := rawSymbol
	if canon, ok := canonicalizeBestEffort(c.Venue.Name, rawSymbol); ok {
		symbol = canon
	}

	ts := time.Now().UnixMilli()
	ev := event.BookTicker(c.Venue.Name, symbol, ts, bidPrice, bidQty, askPrice, askQty)
	b, err := json.Marshal(ev)
	if err != nil {
		metrics.ValidationErrors.WithLabelValues(c.Venue.Name, "encode").Inc()
		return
	}

	select {
	case c.Out <- string(b):
		metrics.MessagesIngested.WithLabelValues(c.Venue.Name, "book_ticker").Inc()
	case <-c.Shutdown:
	}
}

// checkSequenceGap tracks the last observed monotonically increasing trade
// id per symbol and increments the gap counter by the gap size when a
// later id skips ahead.
func (c *ConnTask) checkSequenceGap(symbol string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, seen := c.lastTradeID[symbol]
	if seen && id > last+1 {
		metrics.StreamSequenceGaps.WithLabelValues(c.Venue.Name, symbol).Add(float64(id - last - 1))
	}
	if !seen || id > last {
		c.lastTradeID[symbol] = id
	}
}
