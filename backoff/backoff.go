// Package backoff computes retry delays. The outbox dispatcher feeds it
// a consecutive-failure count between polls. Strategies hold only their
// parameters, so a single value is safe to share across goroutines.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n. Attempt 1 is the
// first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// capAt bounds d to limit when limit is positive.
func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// exponential is initial doubled attempt-1 times, capped at maxDelay.
// The shift is clamped so large attempt counts cannot overflow.
func exponential(initial, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 32 {
		shift = 32
	}
	return capAt(initial<<uint(shift), maxDelay)
}

// Constant waits the same Interval before every retry.
type Constant struct {
	Interval time.Duration
}

// NewConstant returns a fixed-interval strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration { return c.Interval }

// Linear waits Initial * attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear returns a linearly growing strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capAt(l.Initial*time.Duration(attempt), l.Max)
}

// Exponential doubles the delay on every attempt, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential returns a doubling strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	return exponential(e.Initial, e.Max, attempt)
}

// ExponentialWithJitter draws a uniform delay from [0, exponential cap]
// so simultaneous failures do not retry in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter returns a full-jitter exponential strategy.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	ceiling := exponential(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * float64(ceiling)) //nolint:gosec // jitter does not need crypto rand
}

// DefaultStrategy is what the outbox dispatcher uses when none is
// configured: full jitter, 1s initial, 1m ceiling.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
