package agent

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"crossspread-md-ingest/internal/venue"
)

func TestRefillDrainsStaleValueBeforePush(t *testing.T) {
	watch := make(chan []string, 1)
	watch <- []string{"stale"}

	refill(watch, []string{"fresh"})

	got := <-watch
	if len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("expected last-value-wins semantics, got %+v", got)
	}
	select {
	case extra := <-watch:
		t.Fatalf("expected exactly one buffered value, got extra %+v", extra)
	default:
	}
}

func TestRefillOnEmptyChannel(t *testing.T) {
	watch := make(chan []string, 1)
	refill(watch, []string{"a"})
	got := <-watch
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestReconcileNoChangeIsNoOp(t *testing.T) {
	out := make(chan string, 1)
	shutdown := make(chan struct{})
	defer close(shutdown)

	a := &VenueAgent{Venue: venue.Coinbase, Out: out, Shutdown: shutdown, symbols: []string{"BTC-USD", "ETH-USD"}}
	// The shard's Connection Task has already taken its initial assignment,
	// so the watch starts empty.
	watch := make(chan []string, 1)
	a.shardWatches = []chan []string{watch}

	g, ctx := errgroup.WithContext(context.Background())
	a.reconcile(ctx, g, []string{"BTC-USD", "ETH-USD"}, a.Venue.MaxSymbolsPerConn())

	if len(a.shardWatches) != 1 {
		t.Fatalf("expected shard count unchanged, got %d", len(a.shardWatches))
	}
	select {
	case v := <-watch:
		t.Fatalf("expected no refill on an unchanged symbol set, got %+v", v)
	default:
	}
}

func TestReconcileSpawnsBackfillOnlyWhenVenueHasRestURL(t *testing.T) {
	out := make(chan string, 16)
	shutdown := make(chan struct{})
	defer close(shutdown)

	// Coinbase carries no RestURL, so reconcile must not attempt to spawn a
	// Backfill Client for it even though the symbol set grew.
	a := &VenueAgent{Venue: venue.Coinbase, Out: out, Shutdown: shutdown, symbols: []string{"BTC-USD"}}
	watch := make(chan []string, 1)
	watch <- a.symbols
	a.shardWatches = []chan []string{watch}

	g, ctx := errgroup.WithContext(context.Background())
	a.reconcile(ctx, g, []string{"BTC-USD", "ETH-USD"}, a.Venue.MaxSymbolsPerConn())

	select {
	case v := <-watch:
		if len(v) != 2 {
			t.Fatalf("expected the shard to be refilled with both symbols, got %+v", v)
		}
	default:
		t.Fatal("expected a refill after the symbol set changed")
	}

	// No errgroup member was started, so Wait returns at once; a spawned
	// Backfill Client would still be retrying its request here.
	waited := make(chan struct{})
	go func() { _ = g.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected no backfill goroutine for a venue without a RestURL")
	}
}
