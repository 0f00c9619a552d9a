package sync

import (
	"math/rand"
	"time"
)

const (
	// defaultBackoffBase is the first retry delay after a failed cycle.
	defaultBackoffBase = 30 * time.Second

	// defaultBackoffMax caps the retry delay.
	defaultBackoffMax = 30 * time.Minute
)

// backoffDelay computes the wait before the next cycle after failures
// consecutive failed cycles, applying exponential growth with 50–100 %
// jitter. It never exceeds ceiling.
func backoffDelay(failures int, base, ceiling time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < failures && delay < ceiling; i++ {
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}
	// Jitter: uniform in [delay/2, delay).
	half := int64(delay) / 2
	if half <= 0 {
		return delay
	}
	jitter := time.Duration(rand.Int63n(half)) //nolint:gosec // jitter does not need crypto/rand
	return delay/2 + jitter
}
