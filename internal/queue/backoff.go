package queue

import (
	"math/rand"
	"time"
)

// Backoff returns the delay before re-running a task after its n-th failed
// attempt: base doubled per attempt, capped at max, plus up to 10% jitter so
// retries of a burst do not land on the same tick.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}
