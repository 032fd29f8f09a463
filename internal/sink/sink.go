// Package sink delivers canonical event lines to an output transport:
// standard output, an append-only file, or a message-bus stream.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"

	"crossspread-md-ingest/internal/metrics"
)

// Sink delivers exactly one newline-terminated record per Send call, in the
// order calls are made. Implementations apply backpressure by blocking Send
// until the underlying transport accepts the bytes; none buffer lossily.
type Sink interface {
	Send(ctx context.Context, line string) error
	Close() error
}

// StdoutSink serializes writes to os.Stdout behind a mutex so concurrent
// callers never interleave partial lines.
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutSink returns a Sink writing newline-delimited lines to stdout.
func NewStdoutSink() *StdoutSink {
	return &StdoutSink{w: os.Stdout}
}

func (s *StdoutSink) Send(_ context.Context, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.w, line); err != nil {
		return err
	}
	_, err := io.WriteString(s.w, "\n")
	return err
}

func (s *StdoutSink) Close() error { return nil }

// FileSink appends newline-delimited lines to a file opened in append mode,
// creating it if necessary.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens path for append, creating it if it does not exist.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Send(_ context.Context, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteString(line); err != nil {
		return err
	}
	_, err := s.f.WriteString("\n")
	return err
}

func (s *FileSink) Close() error { return s.f.Close() }

// BusSink publishes each line onto a Redis Stream, the message-bus
// implementation of the canonical sink contract. Each line is written with
// XAdd to a single configured topic rather than a per-entity stream.
type BusSink struct {
	client *redis.Client
	topic  string
	maxLen int64
}

// NewBusSink dials addr and verifies connectivity before returning, failing
// fast on a misconfigured broker rather than on the first Send.
func NewBusSink(ctx context.Context, addr, topic string) (*BusSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sink: bus ping failed: %w", err)
	}
	return &BusSink{client: client, topic: topic, maxLen: 100000}, nil
}

func (s *BusSink) Send(ctx context.Context, line string) error {
	timer := metrics.NewTimer()
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.topic,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": line},
	}).Err()
	timer.ObserveDuration(metrics.RedisPublishDuration, s.topic)
	if err != nil {
		metrics.RedisPublishErrors.WithLabelValues(s.topic).Inc()
	}
	return err
}

func (s *BusSink) Close() error { return s.client.Close() }
