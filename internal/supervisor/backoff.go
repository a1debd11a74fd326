package supervisor

import "time"

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
)

// backoff computes restart delays: base doubling per attempt, capped at max.
// The produced sequence is non-decreasing until reset.
type backoff struct {
	base     time.Duration
	max      time.Duration
	attempts int
}

func newBackoff(base, max time.Duration) backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max < base {
		max = defaultBackoffMax
	}
	if max < base {
		max = base
	}
	return backoff{base: base, max: max}
}

// next returns the delay for the upcoming attempt and advances the counter.
func (b *backoff) next() time.Duration {
	d := b.delay()
	b.attempts++
	return d
}

func (b *backoff) delay() time.Duration {
	// shift guard: beyond 62 doublings the value has long been capped
	n := b.attempts
	if n > 62 {
		n = 62
	}
	d := b.base << uint(n)
	if d <= 0 || d > b.max {
		return b.max
	}
	return d
}

func (b *backoff) reset() { b.attempts = 0 }

func (b *backoff) tries() int { return b.attempts }
