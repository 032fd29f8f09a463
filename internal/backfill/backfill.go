// Package backfill implements paged historical REST backfill (funding rate,
// open interest) that feeds canonical events onto the same fan-in channel
// live agents use. It runs alongside the live streams, so historical and
// live events for a symbol can interleave on that channel.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"crossspread-md-ingest/internal/canon"
	"crossspread-md-ingest/internal/decimal"
	"crossspread-md-ingest/internal/event"
	"crossspread-md-ingest/internal/metrics"
)

const (
	pageLimit         = 1000
	interPageSleep    = 200 * time.Millisecond
	maxReconnectRetry = 8 * time.Second
	maxAttempts       = 5
)

// Kind selects which historical endpoint a Client fetches.
type Kind int

const (
	Funding Kind = iota
	OpenInterest
)

// Client backfills one historical endpoint for a set of symbols.
type Client struct {
	HTTPClient *http.Client
	RestURL    string
	Agent      string
	Kind       Kind
	Out        chan<- string
}

// NewClient constructs a backfill Client. httpClient may be nil to use a
// client with a 10-second timeout.
func NewClient(agent, restURL string, kind Kind, out chan<- string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{HTTPClient: httpClient, RestURL: restURL, Agent: agent, Kind: kind, Out: out}
}

// Run backfills every symbol in sequence. Context cancellation (the
// supervisor tearing down the fan-in pipeline) aborts the whole backfill
// cleanly.
func (c *Client) Run(ctx context.Context, symbols []string) error {
	for _, sym := range symbols {
		if err := c.backfillSymbol(ctx, sym); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Str("agent", c.Agent).Str("symbol", sym).Err(err).Msg("backfill failed")
		}
	}
	return nil
}

type record struct {
	TimeMS int64
	Value  string // funding rate or open interest, decimal string
}

func (c *Client) backfillSymbol(ctx context.Context, symbol string) error {
	start := int64(0)
	for {
		records, err := c.fetchPage(ctx, symbol, start)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		for _, r := range records {
			line, err := c.encode(symbol, r)
			if err != nil {
				continue
			}
			// Out is a bounded fan-in channel; a full channel throttles the
			// backfill by blocking here, same as a live Connection Task.
			select {
			case c.Out <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if len(records) < pageLimit {
			return nil
		}
		start = records[len(records)-1].TimeMS + 1

		select {
		case <-time.After(interPageSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) encode(rawSymbol string, r record) (string, error) {
	symbol := rawSymbol
	if canonical, ok := canon.CanonicalPair(c.Agent, rawSymbol); ok {
		symbol = canonical
	}
	rate, ok := decimal.Normalize(r.Value)
	if !ok {
		rate = decimal.Sentinel
	}

	var ev event.Event
	switch c.Kind {
	case Funding:
		ev = event.Funding(c.Agent, symbol, r.TimeMS, rate)
		if f, ok := decimal.Parsed(rate); ok {
			metrics.RecordFundingRate(c.Agent, symbol, f.InexactFloat64())
		}
	case OpenInterest:
		ev = event.OpenInterest(c.Agent, symbol, r.TimeMS, rate)
	}
	b, err := json.Marshal(ev)
	return string(b), err
}

func (c *Client) endpointPath() string {
	if c.Kind == OpenInterest {
		return "/futures/data/openInterestHist"
	}
	return "/fapi/v1/fundingRate"
}

func (c *Client) timeField() string {
	if c.Kind == OpenInterest {
		return "timestamp"
	}
	return "fundingTime"
}

func (c *Client) valueField() string {
	if c.Kind == OpenInterest {
		return "sumOpenInterest"
	}
	return "fundingRate"
}

// fetchPage performs one paged request with exponential backoff retry on
// 429/5xx and transient transport errors: starts at 500ms, doubles, caps at
// 8s, gives up after ~5 attempts.
func (c *Client) fetchPage(ctx context.Context, symbol string, start int64) ([]record, error) {
	url := fmt.Sprintf("%s%s?symbol=%s&limit=%d&startTime=%d", c.RestURL, c.endpointPath(), symbol, pageLimit, start)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = maxReconnectRetry
	b.Multiplier = 2

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		timer := metrics.NewTimer()
		resp, err := c.HTTPClient.Do(req)
		timer.ObserveDuration(metrics.RestFetchDuration, c.Agent, c.endpointPath())
		if err != nil {
			lastErr = err
			metrics.RestFetchErrors.WithLabelValues(c.Agent, c.endpointPath()).Inc()
		} else if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("transient status %d", resp.StatusCode)
			metrics.RestFetchErrors.WithLabelValues(c.Agent, c.endpointPath()).Inc()
		} else if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			metrics.RestFetchErrors.WithLabelValues(c.Agent, c.endpointPath()).Inc()
			return nil, fmt.Errorf("request failed: status %d", resp.StatusCode)
		} else {
			defer resp.Body.Close()
			return c.decodePage(resp.Body)
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("fetch page after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) decodePage(body io.Reader) ([]record, error) {
	var raw []map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, err
	}

	out := make([]record, 0, len(raw))
	for _, item := range raw {
		var ts int64
		if tsRaw, ok := item[c.timeField()]; ok {
			_ = json.Unmarshal(tsRaw, &ts)
		}
		var value string
		if vRaw, ok := item[c.valueField()]; ok {
			if err := json.Unmarshal(vRaw, &value); err != nil {
				var f float64
				if err := json.Unmarshal(vRaw, &f); err == nil {
					value = fmt.Sprintf("%v", f)
				}
			}
		}
		out = append(out, record{TimeMS: ts, Value: value})
	}
	return out, nil
}
