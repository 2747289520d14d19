package channel

import (
	"math"
	"time"
)

// CalculateBackoffDelay returns the delay before retry number failures
// (1-based).
//
// The exponential backoff base·2^(failures-1) is capped at max; the delay is
// then spread over [backoff/2, backoff] by random, which must be in [0, 1].
func CalculateBackoffDelay(failures int, base, max time.Duration, random float64) time.Duration {
	if failures < 1 {
		failures = 1
	}
	backoff := float64(max)
	if exp := float64(base) * math.Pow(2, float64(failures-1)); exp < backoff {
		backoff = exp
	}
	half := backoff / 2
	return time.Duration(half + random*half)
}
