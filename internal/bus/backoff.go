package bus

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// jitterBackoff reproduces request_with_backoff's exact delay formula:
// 2**attempt + rand(0, 1) seconds, with attempt saturating at maxAttempt
// rather than ever stopping the retry loop outright (spec.md §4.6, §8
// property 6). It satisfies backoff.BackOff so cenkalti/backoff's Retry
// driver supplies the loop, context cancellation, and notify hook, while
// this type supplies the spec-exact jitter math in place of cenkalti's own
// exponential curve.
type jitterBackoff struct {
	attempt    int
	maxAttempt int
}

// newJitterBackoff builds a backoff.BackOff capped at maxAttempt
// consecutive exponent increases, matching MAX_BACKOFF_MULTIPLE.
func newJitterBackoff(maxAttempt int) backoff.BackOff {
	if maxAttempt < 1 {
		maxAttempt = 10
	}
	return &jitterBackoff{maxAttempt: maxAttempt}
}

// NextBackOff never returns backoff.Stop: spec.md's retry loop only ends
// when the request succeeds or the agent is marked stopping, never after a
// fixed number of attempts.
func (b *jitterBackoff) NextBackOff() time.Duration {
	exp := b.attempt
	if exp > b.maxAttempt {
		exp = b.maxAttempt
	}
	delay := time.Duration(1<<uint(exp))*time.Second + time.Duration(rand.Int63n(int64(time.Second)))
	if b.attempt < b.maxAttempt {
		b.attempt++
	}
	return delay
}

func (b *jitterBackoff) Reset() {
	b.attempt = 0
}
