package retry

import (
	"math/rand/v2"
	"time"
)

// Backoff returns the delay before retry n (0-based): the initial
// delay doubled n times, plus up to jitter*delay of randomness,
// capped at max.
func Backoff(n int, initial, max time.Duration, jitter float64) time.Duration {
	delay := initial
	for i := 0; i < n && delay < max; i++ {
		delay *= 2
	}
	if jitter > 0 {
		delay += time.Duration(jitter * rand.Float64() * float64(delay))
	}
	if delay > max {
		delay = max
	}
	return delay
}
