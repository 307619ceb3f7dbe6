package client

import (
	"math/rand/v2"
	"time"
)

const (
	backoffBaseMS = 1000
	backoffCapMS  = 30000
)

// Backoff returns the reconnection delay for the 1-indexed attempt:
// min(1000ms * 2^(attempt-1), 30000ms) with up to 20% symmetric jitter.
// Jittered delays avoid thundering-herd reconnection storms.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := int64(backoffCapMS)
	if attempt <= 6 {
		base = backoffBaseMS << uint(attempt-1)
		if base > backoffCapMS {
			base = backoffCapMS
		}
	}

	jitterRange := base / 5
	jitter := rand.Int64N(2*jitterRange+1) - jitterRange
	return time.Duration(base+jitter) * time.Millisecond
}
