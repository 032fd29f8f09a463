package event

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTradeRoundTripsAndOmitsUnsetFields(t *testing.T) {
	id := int64(42)
	e := Trade("binance", "BTC-USDT", 1000, &id, "50000", "0.1", 5)

	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)

	for _, want := range []string{`"agent":"binance"`, `"type":"trade"`, `"s":"BTC-USDT"`, `"t":42`, `"p":"50000"`, `"q":"0.1"`, `"skew":5`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected marshaled trade to contain %q, got %s", want, s)
		}
	}
	for _, unwanted := range []string{`"bp"`, `"bids"`, `"oi"`, `"r":`} {
		if strings.Contains(s, unwanted) {
			t.Errorf("expected marshaled trade to omit %q, got %s", unwanted, s)
		}
	}
}

func TestTradeWithoutIDOmitsT(t *testing.T) {
	e := Trade("binance", "BTC-USDT", 1000, nil, "50000", "0.1", 0)
	b, _ := json.Marshal(e)
	if strings.Contains(string(b), `"t"`) {
		t.Errorf("expected nil trade id to omit t field, got %s", b)
	}
}

func TestL2DiffCarriesLevels(t *testing.T) {
	e := L2Diff("coinbase", "BTC-USD", 1000, []Level{{"99", "0"}, {"98", "3"}}, nil)
	b, _ := json.Marshal(e)
	var decoded Event
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Bids) != 2 || decoded.Bids[0][0] != "99" || decoded.Bids[0][1] != "0" {
		t.Fatalf("unexpected bids after round trip: %+v", decoded.Bids)
	}
}

func TestSnapshotRequiredFields(t *testing.T) {
	e := Snapshot("binance", "BTC-USDT", 1000, []Level{{"100", "1"}}, []Level{{"101", "1"}})
	if e.Agent == "" || e.Type != TypeSnapshot || e.S == "" || e.TS == 0 {
		t.Fatalf("missing required field on snapshot event: %+v", e)
	}
}
