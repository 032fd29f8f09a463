package supervisor

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"crossspread-md-ingest/internal/orderbook"
)

type fakeSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *fakeSink) Send(_ context.Context, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}
func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func TestPumpStdinForwardsLinesAndClosesOnDone(t *testing.T) {
	r, w := io.Pipe()
	defer r.Close()

	watch := &Watchdog{in: make(chan string, 4)}
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	go watch.pumpStdin(w, done, closeDone)
	watch.in <- "hello"

	buf := make([]byte, 6)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello\n" {
		t.Fatalf("unexpected forwarded line: %q", buf[:n])
	}
	closeDone()

	if _, err := r.Read(buf); err != io.EOF {
		t.Fatalf("expected child stdin to be closed once done fires, got err=%v", err)
	}
}

func TestPumpStdoutForwardsScannedLinesToSink(t *testing.T) {
	r, w := io.Pipe()
	sink := &fakeSink{}
	watch := &Watchdog{Sink: sink}
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	go watch.pumpStdout(context.Background(), r, closeDone)

	w.Write([]byte("{\"s\":\"BTC-USDT\"}\n"))
	w.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pumpStdout never signaled done after stdout closed")
	}
	if got := sink.snapshot(); len(got) != 1 || got[0] != `{"s":"BTC-USDT"}` {
		t.Fatalf("unexpected sink lines: %+v", got)
	}
}

func TestPumpStdoutAppliesBookTickerLinesToOrderBook(t *testing.T) {
	r, w := io.Pipe()
	sink := &fakeSink{}
	watch := &Watchdog{Sink: sink, Book: orderbook.NewStore()}
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }

	go watch.pumpStdout(context.Background(), r, closeDone)

	w.Write([]byte(`{"agent":"binance","type":"book_ticker","s":"BTC-USDT","bp":"49999","bq":"1","ap":"50001","aq":"2"}` + "\n"))
	w.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pumpStdout never signaled done after stdout closed")
	}

	book := watch.Book.Book("BTC-USDT")
	bid, ok := book.BestBid()
	if !ok || bid.Price != "49999" {
		t.Fatalf("expected best bid 49999 applied to the order book, got %+v ok=%v", bid, ok)
	}
	ask, ok := book.BestAsk()
	if !ok || ask.Price != "50001" {
		t.Fatalf("expected best ask 50001 applied to the order book, got %+v ok=%v", ask, ok)
	}
}

func TestRunForwardsThroughRealProcessAndStopsOnCancel(t *testing.T) {
	catPath, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available on this system")
	}

	sink := &fakeSink{}
	w := NewWatchdog(catPath, sink, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	w.In() <- `{"s":"ETH-USDT"}`

	deadline := time.After(2 * time.Second)
	for {
		if lines := sink.snapshot(); len(lines) > 0 {
			if !strings.Contains(lines[0], "ETH-USDT") {
				t.Fatalf("unexpected echoed line: %q", lines[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for cat to echo the line back through the sink")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
