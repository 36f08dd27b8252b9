package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFloorBackoffGrowsExponentiallyAboveFloor(t *testing.T) {
	b := newFloorBackoff(2*time.Second, 1*time.Second)

	first := b.NextBackOff()
	second := b.NextBackOff()
	third := b.NextBackOff()

	assert.Equal(t, 2*time.Second, first)
	assert.Equal(t, 4*time.Second, second)
	assert.Equal(t, 8*time.Second, third)
}

func TestFloorBackoffNeverGoesBelowFloor(t *testing.T) {
	b := newFloorBackoff(500*time.Millisecond, 2*time.Second)
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}

func TestFloorBackoffResetRestartsAttemptCount(t *testing.T) {
	b := newFloorBackoff(2*time.Second, 1*time.Second)
	b.NextBackOff()
	b.NextBackOff()
	b.Reset()
	assert.Equal(t, 2*time.Second, b.NextBackOff())
}
