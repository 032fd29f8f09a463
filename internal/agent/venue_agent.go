package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"crossspread-md-ingest/internal/backfill"
	"crossspread-md-ingest/internal/metrics"
	"crossspread-md-ingest/internal/venue"
)

// SymbolSetSpec describes how a Venue Agent resolves the symbols it is
// responsible for: an explicit list, or "all" (every instrument the venue
// currently lists).
type SymbolSetSpec struct {
	All     bool
	Symbols []string
}

// Resolver supplies the live symbol universe for "all"-mode agents. A nil
// Resolver with All set is treated as an empty universe.
type Resolver interface {
	Resolve(ctx context.Context, v venue.Venue) ([]string, error)
}

// VenueAgent supervises N Connection Tasks for one venue: it resolves the
// symbol set, partitions it into shards sized to the venue's
// max-streams-per-connection budget, and reconciles shard assignments as
// the universe changes over a fixed-interval timer.
type VenueAgent struct {
	Venue        venue.Venue
	Spec         SymbolSetSpec
	Resolver     Resolver
	Out          chan<- string
	Shutdown     <-chan struct{}
	RefreshEvery time.Duration

	shardWatches []chan []string
	// symbols is the full venue-wide universe currently assigned across all
	// shards, tracked so reconcile can compute added/removed against the
	// whole venue rather than per-shard.
	symbols []string
}

// NewVenueAgent constructs a Venue Agent. RefreshEvery defaults to 5 minutes
// if zero.
func NewVenueAgent(v venue.Venue, spec SymbolSetSpec, resolver Resolver, out chan<- string, shutdown <-chan struct{}) *VenueAgent {
	return &VenueAgent{
		Venue:        v,
		Spec:         spec,
		Resolver:     resolver,
		Out:          out,
		Shutdown:     shutdown,
		RefreshEvery: 5 * time.Minute,
	}
}

func (a *VenueAgent) resolveSymbols(ctx context.Context) ([]string, error) {
	if !a.Spec.All {
		return a.Spec.Symbols, nil
	}
	if a.Resolver == nil {
		return nil, nil
	}
	return a.Resolver.Resolve(ctx, a.Venue)
}

// Run resolves the initial symbol set, spawns one Connection Task per
// shard, and reconciles shard assignments on every RefreshEvery tick until
// Shutdown closes, per §4.E's startup/reconcile/shutdown sequence.
func (a *VenueAgent) Run(ctx context.Context) error {
	symbols, err := a.resolveSymbols(ctx)
	if err != nil {
		return err
	}
	a.symbols = append([]string(nil), symbols...)
	a.reportUniverse(symbols)
	chunkSize := a.Venue.MaxSymbolsPerConn()
	chunks := venue.Chunk(symbols, chunkSize)

	g, ctx := errgroup.WithContext(ctx)
	a.shardWatches = make([]chan []string, 0, len(chunks))
	for _, chunk := range chunks {
		watch := make(chan []string, 1)
		watch <- chunk
		a.shardWatches = append(a.shardWatches, watch)

		task := NewConnTask(a.Venue, a.Out, a.Shutdown, watch)
		g.Go(func() error { return task.Run(ctx) })
	}

	if a.RefreshEvery <= 0 {
		a.RefreshEvery = 5 * time.Minute
	}
	ticker := time.NewTicker(a.RefreshEvery)
	defer ticker.Stop()

reconcile:
	for {
		select {
		case <-a.Shutdown:
			break reconcile
		case <-ctx.Done():
			break reconcile
		case <-ticker.C:
			newSymbols, err := a.resolveSymbols(ctx)
			if err != nil {
				continue
			}
			a.reconcile(ctx, g, newSymbols, chunkSize)
		}
	}

	return g.Wait()
}

// reconcile re-chunks the current universe and redistributes it across
// shards per §4.E: computes added/removed against the venue's tracked
// universe and does nothing if both are empty; same shard count overwrites
// each watch in place; more shards needed spawns additional Connection
// Tasks; fewer shards needed empties the surplus so they close themselves,
// then drops their watches. Symbols newly added kick off a Backfill Client
// for this venue's historical endpoints, if it has any (§4.E step 4).
func (a *VenueAgent) reconcile(ctx context.Context, g *errgroup.Group, symbols []string, chunkSize int) {
	added, removed := venue.Diff(a.symbols, symbols)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	a.symbols = append([]string(nil), symbols...)
	a.reportUniverse(symbols)

	chunks := venue.Chunk(symbols, chunkSize)

	n := len(a.shardWatches)
	m := len(chunks)

	overlap := n
	if m < overlap {
		overlap = m
	}
	for i := 0; i < overlap; i++ {
		refill(a.shardWatches[i], chunks[i])
	}

	switch {
	case m > n:
		for i := n; i < m; i++ {
			watch := make(chan []string, 1)
			watch <- chunks[i]
			a.shardWatches = append(a.shardWatches, watch)
			task := NewConnTask(a.Venue, a.Out, a.Shutdown, watch)
			g.Go(func() error { return task.Run(ctx) })
		}
	case n > m:
		for i := m; i < n; i++ {
			refill(a.shardWatches[i], nil)
		}
		a.shardWatches = a.shardWatches[:m]
	}

	if len(added) > 0 && a.Venue.RestURL != "" {
		a.spawnBackfill(ctx, g, added)
	}
}

// spawnBackfill kicks off a Backfill Client per historical endpoint kind
// for symbols newly added to this venue's universe, writing onto the same
// fan-in channel live Connection Tasks use. Each kind runs as its own
// errgroup member so a slow or failing backfill never blocks reconcile or
// tears down the venue agent.
func (a *VenueAgent) spawnBackfill(ctx context.Context, g *errgroup.Group, added []string) {
	for _, kind := range []backfill.Kind{backfill.Funding, backfill.OpenInterest} {
		client := backfill.NewClient(a.Venue.Name, a.Venue.RestURL, kind, a.Out, nil)
		g.Go(func() error { return client.Run(ctx, added) })
	}
}

// reportUniverse republishes the teacher's instrument/subscription gauges
// whenever the venue's resolved symbol set changes.
func (a *VenueAgent) reportUniverse(symbols []string) {
	n := float64(len(symbols))
	metrics.InstrumentsLoaded.WithLabelValues(a.Venue.Name).Set(n)
	metrics.InstrumentsSubscribed.WithLabelValues(a.Venue.Name).Set(n)
	metrics.WebsocketSymbolsSubscribed.WithLabelValues(a.Venue.Name).Set(n)
}

// refill implements "last-value-wins" delivery on a capacity-1 channel:
// drain any stale pending value, then push the new one without blocking.
func refill(watch chan []string, symbols []string) {
	select {
	case <-watch:
	default:
	}
	watch <- symbols
}
