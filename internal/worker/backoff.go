package worker

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// floorBackoff implements backoff.BackOff with the formula the
// specification's open question resolves `min_retry_interval` to:
//
//	sleep = max(min_retry_interval, retry_backoff_base ** attempt)
//
// attempt starts at 1 on the first call to NextBackOff, matching the
// system's own `retry_backoff_factor ** attempt` retry loop (see
// buildkite-agent/retry/retry.go's Exponential strategy for the same
// base**attempt idiom over a cenkalti/backoff-style interface).
type floorBackoff struct {
	base    time.Duration
	floor   time.Duration
	attempt int
}

var _ backoff.BackOff = (*floorBackoff)(nil)

func newFloorBackoff(base, floor time.Duration) *floorBackoff {
	return &floorBackoff{base: base, floor: floor}
}

func (b *floorBackoff) NextBackOff() time.Duration {
	b.attempt++
	baseSeconds := b.base.Seconds()
	expSeconds := math.Pow(baseSeconds, float64(b.attempt))
	exp := time.Duration(expSeconds * float64(time.Second))
	if exp < b.floor {
		return b.floor
	}
	return exp
}

func (b *floorBackoff) Reset() {
	b.attempt = 0
}
