package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// ExponentialJitter returns base*2^(attempt-1), capped at max, with +/-20% jitter.
// attempt counts from 1.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	f := float64(base) * math.Pow(2, float64(attempt-1))
	if max > 0 && f > float64(max) {
		f = float64(max)
	}
	d := time.Duration(f)

	j := int64(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - time.Duration(j) + time.Duration(rand.Int64N(2*j))
}
