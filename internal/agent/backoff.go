package agent

import "time"

// reconnectDelay implements delay = min(2^(attempt-1), maxSeconds), with the
// exponent capped at 4, ported verbatim from the Rust agent's
// attempt.saturating_sub(1).min(4) / (1u64 << exp).min(max).
func reconnectDelay(attempt int, maxSeconds int) time.Duration {
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	if exp > 4 {
		exp = 4
	}
	delay := int64(1) << uint(exp)
	if int64(maxSeconds) < delay {
		delay = int64(maxSeconds)
	}
	return time.Duration(delay) * time.Second
}
