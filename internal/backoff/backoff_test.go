package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayWithinJitterBounds(t *testing.T) {
	p := Default()

	for attempt := 0; attempt < 12; attempt++ {
		d := p.Delay(attempt)

		unjittered := math.Min(float64(p.Base)*math.Pow(2, float64(attempt)), float64(p.Max))
		lo := math.Max(float64(time.Second), unjittered*(1-p.Jitter))
		hi := unjittered * (1 + p.Jitter)

		assert.GreaterOrEqual(t, float64(d), lo, "attempt %d below bound", attempt)
		assert.LessOrEqual(t, float64(d), hi, "attempt %d above bound", attempt)
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Max: 300 * time.Second, Jitter: 0}.WithRand(func() float64 { return 0.5 })

	// 2*2^20 seconds is far beyond the cap.
	assert.Equal(t, 300*time.Second, p.Delay(20))
}

func TestDelayLowerBoundedAtFloor(t *testing.T) {
	// Jitter pulled fully negative on a tiny base must not go below the floor.
	p := Policy{Base: 500 * time.Millisecond, Max: time.Minute, Jitter: 0.9, Floor: time.Second}.WithRand(func() float64 { return 0 })

	assert.Equal(t, time.Second, p.Delay(0))
}

func TestZeroFloorAllowsSubSecondDelays(t *testing.T) {
	// Fast reconnect loops in tests rely on a disabled floor.
	p := Policy{Base: time.Millisecond, Max: time.Millisecond, Jitter: 0}

	assert.Equal(t, time.Millisecond, p.Delay(0))
	assert.Equal(t, time.Millisecond, p.Delay(5))
}

func TestNegativeAttemptTreatedAsZero(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Max: time.Minute, Jitter: 0}.WithRand(func() float64 { return 0.5 })

	assert.Equal(t, p.Delay(0), p.Delay(-3))
}

func TestDeterministicWithFixedRand(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Max: 300 * time.Second, Jitter: 0.3}.WithRand(func() float64 { return 1 })

	// r=1 maps to +Jitter exactly: 2s * 2^2 = 8s, +30% = 10.4s.
	assert.InDelta(t, 10.4*float64(time.Second), float64(p.Delay(2)), float64(time.Millisecond))
}
