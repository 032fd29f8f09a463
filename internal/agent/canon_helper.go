package agent

import "crossspread-md-ingest/internal/canon"

// canonicalizeBestEffort wraps canon.CanonicalPair for call sites that must
// never drop an event on a canonicalization miss: on failure the caller
// keeps the raw symbol, matching the canonicalizer process's own
// passthrough-on-failure contract (§4.F).
func canonicalizeBestEffort(agent, raw string) (string, bool) {
	return canon.CanonicalPair(agent, raw)
}
