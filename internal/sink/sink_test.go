package sink

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStdoutSinkWritesNewlineDelimited(t *testing.T) {
	var buf bytes.Buffer
	s := &StdoutSink{w: &buf}
	ctx := context.Background()

	if err := s.Send(ctx, `{"a":1}`); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Send(ctx, `{"a":2}`); err != nil {
		t.Fatalf("send: %v", err)
	}

	want := "{\"a\":1}\n{\"a\":2}\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

func TestFileSinkAppendsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	ctx := context.Background()

	s1, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s1.Send(ctx, "line1"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if err := s2.Send(ctx, "line2"); err != nil {
		t.Fatalf("send: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 || lines[0] != "line1" || lines[1] != "line2" {
		t.Fatalf("unexpected file contents: %q", data)
	}
}
