package agent

import (
	"context"
	"fmt"
	"strings"

	"crossspread-md-ingest/internal/venue"
)

// Agent is the small capability set every supervised agent satisfies:
// name, the canonical event types it can emit, and a run loop observing a
// shutdown broadcast and writing onto a shared fan-in channel. Mirrors the
// Rust Agent trait without inheritance, per §9 DESIGN NOTES.
type Agent interface {
	Name() string
	EventTypes() []string
	Run(ctx context.Context, shutdown <-chan struct{}, out chan<- string) error
}

// Factory produces an Agent from a parsed agent spec. Implementations are
// registered by venue name in Registry.
type Factory func(spec SymbolSetSpec) (Agent, error)

// Registry is a venue-name-keyed table of agent factories, avoiding an
// inheritance hierarchy in favor of a capability-set interface plus a
// lookup table, per §9 DESIGN NOTES.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a Registry pre-populated with the built-in venue
// drivers (Binance, Coinbase).
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("binance", func(spec SymbolSetSpec) (Agent, error) {
		return &venueAgentAdapter{venue: venue.Binance, spec: spec}, nil
	})
	r.Register("coinbase", func(spec SymbolSetSpec) (Agent, error) {
		return &venueAgentAdapter{venue: venue.Coinbase, spec: spec}, nil
	})
	return r
}

// Register adds or overwrites the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[strings.ToLower(name)] = f
}

// ParseAgentSpec parses a CLI agent_spec of the form "venue[:csv_symbols|all]".
func ParseAgentSpec(spec string) (venueName string, symbols SymbolSetSpec, err error) {
	venueName, rest, hasColon := strings.Cut(spec, ":")
	venueName = strings.ToLower(strings.TrimSpace(venueName))
	if venueName == "" {
		return "", SymbolSetSpec{}, fmt.Errorf("empty venue in agent spec %q", spec)
	}
	if !hasColon || rest == "" || strings.EqualFold(rest, "all") {
		return venueName, SymbolSetSpec{All: true}, nil
	}
	parts := strings.Split(rest, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return venueName, SymbolSetSpec{Symbols: parts}, nil
}

// Create builds an Agent for spec, returning an error the caller should
// treat as "unknown agent spec" (spec exit code 2) if the venue is not
// registered.
func (r *Registry) Create(spec string) (Agent, error) {
	venueName, symbolSpec, err := ParseAgentSpec(spec)
	if err != nil {
		return nil, err
	}
	f, ok := r.factories[venueName]
	if !ok {
		return nil, fmt.Errorf("unknown agent venue %q", venueName)
	}
	return f(symbolSpec)
}

// venueAgentAdapter satisfies Agent by wrapping a VenueAgent, which is
// constructed per Run invocation with a nil Resolver and the given Out
// channel.
type venueAgentAdapter struct {
	venue venue.Venue
	spec  SymbolSetSpec
}

func (a *venueAgentAdapter) Name() string { return a.venue.Name }

func (a *venueAgentAdapter) EventTypes() []string {
	// l2_diff and snapshot have no producer in this venue driver; only claim
	// the event types the Connection Task actually emits.
	return []string{"trade", "book_ticker"}
}

func (a *venueAgentAdapter) Run(ctx context.Context, shutdown <-chan struct{}, out chan<- string) error {
	va := NewVenueAgent(a.venue, a.spec, nil, out, shutdown)
	return va.Run(ctx)
}
