// Command analytics reads canonical trade events from stdin and prints one
// JSON spread event line per detected cross-venue arbitrage opportunity,
// grounded on the original binary's stdin-trades/stdout-events loop.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crossspread-md-ingest/internal/spread"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	threshold := "1"
	if len(os.Args) > 1 {
		threshold = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := spread.New(threshold)
	trades := make(chan spread.Trade, 256)
	go d.Run(ctx, trades)

	sub := d.Subscribe()
	go readTrades(os.Stdin, trades)

	for ev := range sub {
		b, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msg("marshal spread event")
			continue
		}
		fmt.Println(string(b))
	}
}

// canonicalTrade is the subset of canonical event fields a trade line
// carries.
type canonicalTrade struct {
	Agent string `json:"agent"`
	Type  string `json:"type"`
	S     string `json:"s"`
	TS    int64  `json:"ts"`
	P     string `json:"p"`
}

func readTrades(r io.Reader, out chan<- spread.Trade) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ct canonicalTrade
		if err := json.Unmarshal([]byte(line), &ct); err != nil {
			continue
		}
		if ct.Type != "trade" || ct.P == "" {
			continue
		}
		out <- spread.Trade{Agent: ct.Agent, Symbol: ct.S, Price: ct.P, TimestampMS: ct.TS}
	}
}
