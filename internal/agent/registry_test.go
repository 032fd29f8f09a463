package agent

import "testing"

func TestParseAgentSpecExplicitSymbols(t *testing.T) {
	venueName, spec, err := ParseAgentSpec("binance:btcusdt,ethusdt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if venueName != "binance" || spec.All {
		t.Fatalf("unexpected parse: %q %+v", venueName, spec)
	}
	if len(spec.Symbols) != 2 || spec.Symbols[0] != "btcusdt" || spec.Symbols[1] != "ethusdt" {
		t.Fatalf("unexpected symbols: %+v", spec.Symbols)
	}
}

func TestParseAgentSpecAll(t *testing.T) {
	venueName, spec, err := ParseAgentSpec("binance:all")
	if err != nil || venueName != "binance" || !spec.All {
		t.Fatalf("unexpected parse: %q %+v %v", venueName, spec, err)
	}

	venueName, spec, err = ParseAgentSpec("coinbase")
	if err != nil || venueName != "coinbase" || !spec.All {
		t.Fatalf("unexpected parse for bare venue: %q %+v %v", venueName, spec, err)
	}
}

func TestParseAgentSpecEmptyVenueErrors(t *testing.T) {
	if _, _, err := ParseAgentSpec(":all"); err == nil {
		t.Fatal("expected error for empty venue")
	}
}

func TestRegistryCreateUnknownVenue(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("kraken:all"); err == nil {
		t.Fatal("expected error for unknown venue")
	}
}

func TestRegistryCreateKnownVenue(t *testing.T) {
	r := NewRegistry()
	a, err := r.Create("binance:btcusdt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "binance" {
		t.Fatalf("unexpected agent name: %s", a.Name())
	}
}
