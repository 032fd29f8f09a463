// Package supervisor owns the Canonicalizer Process child and the fan-in
// channel feeding it, restarting the child on exit and forwarding its
// rewritten lines to a Sink. Ported from the original binary's
// canon_watchdog task.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog/log"

	"crossspread-md-ingest/internal/decimal"
	"crossspread-md-ingest/internal/metrics"
	"crossspread-md-ingest/internal/orderbook"
	"crossspread-md-ingest/internal/sink"
)

// Watchdog supervises one Canonicalizer Process child, restarting it
// whenever it exits while lines remain to be processed.
type Watchdog struct {
	// BinaryPath is the canonicalizer executable to exec, e.g. the sibling
	// cmd/canonicalizer binary installed alongside the ingestor.
	BinaryPath string
	Sink       sink.Sink

	// Book is optional: when set, every canonicalized line is also applied
	// to the Order-Book Store and its depth/best-price gauges are
	// refreshed. A nil Book disables order-book reconstruction entirely.
	Book *orderbook.Store

	in chan string
}

// NewWatchdog returns a Watchdog with a fan-in channel of the given
// capacity. Agents and the backfill client write canonical event lines to
// In(); the watchdog forwards them through the canonicalizer child and on
// to Sink.
func NewWatchdog(binaryPath string, s sink.Sink, bufSize int) *Watchdog {
	return &Watchdog{BinaryPath: binaryPath, Sink: s, in: make(chan string, bufSize)}
}

// In returns the fan-in channel agents write canonical event lines to.
func (w *Watchdog) In() chan<- string { return w.in }

// Run supervises the canonicalizer child until ctx is canceled and the
// fan-in channel is drained and closed by the caller, or until ctx itself
// is canceled. Each child exit increments metrics.CanonicalizerRestarts and
// a fresh child is spawned, unless ctx is already done.
func (w *Watchdog) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.runOnce(ctx); err != nil {
			log.Error().Err(err).Msg("canonicalizer process failed to start")
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		metrics.CanonicalizerRestarts.Inc()
		log.Warn().Msg("canonicalizer process exited; restarting")
	}
}

// runOnce spawns one canonicalizer child and races: fan-in -> child stdin,
// child stdout -> Sink.Send, and child Wait(). It returns when any of those
// paths ends, after which Run decides whether to restart.
func (w *Watchdog) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.BinaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("canonicalizer stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("canonicalizer stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn canonicalizer: %w", err)
	}

	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	go w.pumpStdin(stdin, done, closeDone)
	go w.pumpStdout(ctx, stdout, closeDone)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-done:
		_ = cmd.Process.Kill()
		<-waitErr
	case err := <-waitErr:
		closeDone()
		if err != nil {
			log.Warn().Err(err).Msg("canonicalizer child exited with error")
		}
	case <-ctx.Done():
		closeDone()
		_ = cmd.Process.Kill()
		<-waitErr
	}
	return nil
}

// pumpStdin forwards fan-in lines to the child's stdin until done fires or
// the write fails.
func (w *Watchdog) pumpStdin(stdin io.WriteCloser, done <-chan struct{}, closeDone func()) {
	defer stdin.Close()
	for {
		select {
		case line, ok := <-w.in:
			if !ok {
				return
			}
			if _, err := io.WriteString(stdin, line); err != nil {
				closeDone()
				return
			}
			if _, err := io.WriteString(stdin, "\n"); err != nil {
				closeDone()
				return
			}
		case <-done:
			return
		}
	}
}

// pumpStdout scans the child's rewritten output lines and forwards each to
// Sink.Send, until stdout is exhausted (the child exited) or a send fails.
func (w *Watchdog) pumpStdout(ctx context.Context, stdout io.Reader, closeDone func()) {
	defer closeDone()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if w.Book != nil {
			w.applyToBook(line)
		}
		if err := w.Sink.Send(ctx, line); err != nil {
			log.Error().Err(err).Msg("sink send failed")
		}
	}
}

// applyToBook feeds one canonicalized line into the Order-Book Store and
// republishes the teacher's md_orderbook_* gauges from the reconstructed
// book, rather than from the raw event, so depth reflects the store's own
// view rather than a single incoming level.
func (w *Watchdog) applyToBook(line string) {
	agent, symbol, ok := w.Book.ApplyLine([]byte(line))
	if !ok {
		return
	}
	book := w.Book.Book(symbol)
	bidDepth := len(book.Bids())
	askDepth := len(book.Asks())

	var bestBid, bestAsk float64
	if bid, ok := book.BestBid(); ok {
		if d, ok := decimal.Parsed(bid.Price); ok {
			bestBid = d.InexactFloat64()
		}
	}
	if ask, ok := book.BestAsk(); ok {
		if d, ok := decimal.Parsed(ask.Price); ok {
			bestAsk = d.InexactFloat64()
		}
	}
	metrics.RecordOrderbookUpdate(agent, symbol, bidDepth, askDepth, bestBid, bestAsk)
}
