// Package canonproc implements the Canonicalizer Process core: a
// stand-alone line transformer that rewrites the "s" field of canonical
// event JSON to its canonical BASE-QUOTE form. It is grounded verbatim on
// the original canonicalizer's stdin/stdout loop.
package canonproc

import (
	"bufio"
	"io"
	"strings"

	gojson "github.com/goccy/go-json"

	"crossspread-md-ingest/internal/canon"
)

// ProcessLine rewrites a single JSON line's "s" field via
// canon.CanonicalPair when both "agent" and "s" are present and the venue
// is recognized. Malformed JSON, or a line missing either field, or an
// unrecognized venue, is returned unchanged — canonicalization never drops
// a record.
func ProcessLine(line string) string {
	if line == "" {
		return line
	}

	var v map[string]gojson.RawMessage
	if err := gojson.Unmarshal([]byte(line), &v); err != nil {
		return line
	}

	agentRaw, hasAgent := v["agent"]
	symbolRaw, hasSymbol := v["s"]
	if !hasAgent || !hasSymbol {
		return line
	}

	var agent, symbol string
	if err := gojson.Unmarshal(agentRaw, &agent); err != nil {
		return line
	}
	if err := gojson.Unmarshal(symbolRaw, &symbol); err != nil {
		return line
	}

	canonical, ok := canon.CanonicalPair(agent, symbol)
	if !ok {
		return line
	}

	rewritten, err := gojson.Marshal(canonical)
	if err != nil {
		return line
	}
	v["s"] = rewritten

	out, err := gojson.Marshal(v)
	if err != nil {
		return line
	}
	return string(out)
}

// Run reads newline-delimited JSON from r, rewrites each line via
// ProcessLine, and writes the result (always newline-terminated) to w. It
// returns on any read error other than io.EOF, or when r is exhausted.
func Run(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := bw.WriteString(ProcessLine(line)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		// Flush per line so the supervisor's reader observes output
		// promptly rather than buffering behind the process boundary.
		if err := bw.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}
