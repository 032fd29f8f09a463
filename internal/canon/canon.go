// Package canon maps venue-specific symbols to the canonical BASE-QUOTE form.
package canon

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// defaultBinanceQuotes is used when the remote exchangeInfo fetch fails and
// BINANCE_QUOTES is unset.
var defaultBinanceQuotes = []string{"usdt", "usdc", "busd", "usd", "btc", "eth", "bnb"}

// coinbaseQuotes is the small fixed quote list used when an explicit
// separator venue symbol has no "-" or "_".
var coinbaseQuotes = []string{"usdt", "usdc", "usd", "btc", "eth", "eur"}

// quoteCache is a process-wide, initialize-once cell holding the
// length-descending Binance quote asset list.
type quoteCache struct {
	once   sync.Once
	quotes []string
}

var binanceQuotes quoteCache

// Init loads the Binance quote asset list once for the process lifetime.
// Precedence: BINANCE_QUOTES env var, then the remote exchangeInfo endpoint,
// then the hard-coded default. Safe to call multiple times; only the first
// call has effect. httpClient may be nil to use a client with a 10-second
// timeout (tests and the BINANCE_ACCEPT_INVALID_CERTS dev bypass pass a
// configured one).
func Init(ctx context.Context, httpClient *http.Client) {
	binanceQuotes.once.Do(func() {
		if env := os.Getenv("BINANCE_QUOTES"); env != "" {
			binanceQuotes.quotes = sortedQuotes(strings.Split(env, ","))
			return
		}

		quotes, err := fetchBinanceQuotes(ctx, httpClient)
		if err != nil || len(quotes) == 0 {
			if err != nil {
				log.Warn().Err(err).Msg("failed to fetch binance quote assets, using defaults")
			}
			binanceQuotes.quotes = sortedQuotes(defaultBinanceQuotes)
			return
		}
		binanceQuotes.quotes = quotes
	})
}

// SetBinanceQuotes seeds the quote list directly, bypassing Init. Intended
// for tests; overwrites whatever Init would have produced.
func SetBinanceQuotes(quotes []string) {
	binanceQuotes.once.Do(func() {})
	binanceQuotes.quotes = sortedQuotes(quotes)
}

func sortedQuotes(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, q := range raw {
		q = strings.ToLower(strings.TrimSpace(q))
		if q != "" {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func activeBinanceQuotes() []string {
	if binanceQuotes.quotes == nil {
		binanceQuotes.quotes = sortedQuotes(defaultBinanceQuotes)
	}
	return binanceQuotes.quotes
}

func fetchBinanceQuotes(ctx context.Context, httpClient *http.Client) ([]string, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.binance.us/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Symbols []struct {
			QuoteAsset string `json:"quoteAsset"`
		} `json:"symbols"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var quotes []string
	for _, s := range payload.Symbols {
		q := strings.ToLower(s.QuoteAsset)
		if q != "" && !seen[q] {
			seen[q] = true
			quotes = append(quotes, q)
		}
	}
	return sortedQuotes(quotes), nil
}

// CanonicalPair converts raw, as used by venue, into the canonical
// "BASE-QUOTE" form. It returns false if venue is unknown or raw cannot be
// parsed against the known quote-asset set. Callers must fall back to the
// raw string unchanged on failure — canonicalization never drops an event.
func CanonicalPair(venue, raw string) (string, bool) {
	switch strings.ToLower(venue) {
	case "binance":
		return canonicalizeBinance(raw)
	case "coinbase":
		return canonicalizeCoinbase(raw)
	default:
		return "", false
	}
}

// canonicalizeBinance implements the prefix/suffix rule: the raw symbol is
// lowercased, then matched against the quote list (sorted length-descending
// so "usdt" wins over "usd" for "btcusdt"). An empty base is rejected.
func canonicalizeBinance(raw string) (string, bool) {
	lower := strings.ToLower(raw)
	for _, q := range activeBinanceQuotes() {
		if strings.HasSuffix(lower, q) {
			base := lower[:len(lower)-len(q)]
			if base == "" {
				return "", false
			}
			return strings.ToUpper(base) + "-" + strings.ToUpper(q), true
		}
	}
	return "", false
}

// canonicalizeCoinbase implements the explicit-separator rule: "-" or "_"
// splits base/quote directly; otherwise a small fixed quote list is tried
// as a suffix match. A symbol matching neither form is rejected.
func canonicalizeCoinbase(raw string) (string, bool) {
	lower := strings.ToLower(strings.ReplaceAll(raw, "_", "-"))

	if base, quote, ok := strings.Cut(lower, "-"); ok {
		return strings.ToUpper(base) + "-" + strings.ToUpper(quote), true
	}

	for _, q := range coinbaseQuotes {
		if strings.HasSuffix(lower, q) {
			base := lower[:len(lower)-len(q)]
			if base != "" {
				return strings.ToUpper(base) + "-" + strings.ToUpper(q), true
			}
		}
	}

	return "", false
}

// envTLSBypass reports whether the dev-only invalid-certificate bypass is
// requested for Binance's reference endpoint, via either of its two
// supported environment variables.
func envTLSBypass() bool {
	for _, key := range []string{"BINANCE_ACCEPT_INVALID_CERTS", "INGESTOR_ACCEPT_INVALID_CERTS"} {
		if v, err := strconv.ParseBool(os.Getenv(key)); err == nil && v {
			return true
		}
	}
	return false
}

// InsecureHTTPClientIfRequested returns an *http.Client with certificate
// verification disabled when the dev-only bypass env vars are set, and base
// unchanged otherwise (which may be nil).
func InsecureHTTPClientIfRequested(base *http.Client) *http.Client {
	if !envTLSBypass() {
		return base
	}
	if base == nil {
		base = &http.Client{Timeout: 10 * time.Second}
	}
	client := *base
	client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec // dev-only bypass, gated on explicit env var
	log.Warn().Msg("TLS certificate verification disabled for canonicalizer reference fetch (dev only)")
	return &client
}
