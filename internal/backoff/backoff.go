// Package backoff provides the shared reconnect delay policy used by the
// event coordinator, the OBS supervisor and tests.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy computes exponential delays with symmetric jitter.
// The computation is pure apart from the jitter source, so it can be
// shared between every reconnect loop in the process.
type Policy struct {
	// Base is the delay for attempt 0.
	Base time.Duration
	// Max caps the un-jittered delay.
	Max time.Duration
	// Jitter is the symmetric jitter fraction applied after capping.
	Jitter float64
	// Floor lower-bounds every delay after jitter. Zero disables it.
	Floor time.Duration

	// rand returns a value in [0,1). Overridable in tests.
	rand func() float64
}

// Default matches the coordinator's reconnect behavior: 2s base,
// 5 minute cap, +/-30% jitter, never below one second.
func Default() Policy {
	return Policy{
		Base:   2 * time.Second,
		Max:    300 * time.Second,
		Jitter: 0.3,
		Floor:  time.Second,
	}
}

// WithRand returns a copy of the policy using the given jitter source.
func (p Policy) WithRand(r func() float64) Policy {
	p.rand = r
	return p
}

// Delay returns the sleep before retry number attempt (zero-based).
// min(base*2^attempt, max), then symmetric jitter of +/-(Jitter*value),
// lower-bounded at Floor.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(p.Base)
	// Guard the shift against overflow for large attempt counts.
	capped := float64(p.Max)
	value := base * math.Pow(2, float64(attempt))
	if value > capped || math.IsInf(value, 1) {
		value = capped
	}

	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	// Map [0,1) onto [-1,1) for symmetric jitter.
	jitter := (r()*2 - 1) * p.Jitter * value
	value += jitter

	if value < float64(p.Floor) {
		value = float64(p.Floor)
	}
	return time.Duration(value)
}
