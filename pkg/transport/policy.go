package transport

import "time"

// Policy bounds the retry loop. Attempts are 1-based; the pause after
// attempt k is BaseDelay * 2^(k-1), so the default policy sleeps 1s then
// 2s across its three attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy matches the dispatch contract: three attempts, exponential
// delays of 1s and 2s between them.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
}

// Backoff returns the delay after attempt. Attempts below 1 return zero.
// The exponent is capped to keep the shift from overflowing on absurd
// attempt numbers.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	exp := attempt - 1
	if exp > 30 {
		exp = 30
	}
	return p.BaseDelay * time.Duration(int64(1)<<uint(exp))
}
