package backfill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBackfillFundingEmitsCanonicalEvents(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"fundingTime":1000,"fundingRate":"0.0001"},{"fundingTime":2000,"fundingRate":"0.0002"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	out := make(chan string, 8)
	c := NewClient("binance", srv.URL, Funding, out, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Run(ctx, []string{"btcusdt"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var lines []string
	for len(lines) < 2 {
		select {
		case l := <-out:
			lines = append(lines, l)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %d lines so far", len(lines))
		}
	}

	var e1 map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &e1); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e1["type"] != "funding" || e1["r"] != "0.0001" {
		t.Fatalf("unexpected event: %+v", e1)
	}
}

func TestBackfillRetriesOn429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	out := make(chan string, 1)
	c := NewClient("binance", srv.URL, Funding, out, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.Run(ctx, []string{"btcusdt"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls < 2 {
		t.Fatalf("expected at least one retry, got %d calls", calls)
	}
}

func TestEndpointPathsDifferByKind(t *testing.T) {
	c := &Client{Kind: Funding}
	if !strings.Contains(c.endpointPath(), "fundingRate") {
		t.Fatalf("unexpected funding path: %s", c.endpointPath())
	}
	c.Kind = OpenInterest
	if !strings.Contains(c.endpointPath(), "openInterestHist") {
		t.Fatalf("unexpected OI path: %s", c.endpointPath())
	}
}
