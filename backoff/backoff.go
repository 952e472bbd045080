// Package backoff provides the delay strategies the periodic loop uses
// between reconnect attempts: when a run iteration fails with one of the
// job class's whitelisted transient errors, the loop sleeps
// Strategy.Delay(attempt) before trying again. Strategies are stateless
// and safe for concurrent use, so one value can serve every loop in a
// manager.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a reconnect attempt. Attempt
// numbers are 1-indexed: attempt 1 is the first retry after the initial
// failure. Implementations treat attempts below 1 as 1.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same interval regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant returns a fixed-interval strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Linear grows the delay proportionally to the attempt number:
// min(Initial*attempt, Max). A Max of 0 means uncapped.
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
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && (d > l.Max || d < 0) {
		return l.Max
	}
	return d
}

// Exponential doubles the delay each attempt:
// min(Initial*2^(attempt-1), Max). Overflow clamps to Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential returns a doubling strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	return expDelay(e.Initial, e.Max, attempt)
}

// ExponentialWithJitter draws a uniformly random delay from
// [0, min(Initial*2^(attempt-1), Max)). Full jitter keeps a manager's
// loops from reconnecting in lockstep after a shared outage.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter returns a doubling strategy with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	d := expDelay(e.Initial, e.Max, attempt)
	if d <= 0 {
		return 0
	}
	return rand.N(d)
}

// expDelay is the shared exponential base with overflow clamping.
func expDelay(initial, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// DefaultStrategy is the reconnect backoff a loop falls back to when a
// job class whitelists retryable errors without picking a strategy:
// full-jitter exponential, 1s initial, capped at one minute.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
