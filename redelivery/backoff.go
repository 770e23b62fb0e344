// Package redelivery holds the policies applied when a listener fails:
// how long to wait before a message is redelivered, and when to give up and
// move it to a dead-letter topic instead.
package redelivery

import (
	"math"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Backoff computes the negative-acknowledgment delay for a delivery attempt.
// Attempts are 1-based.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// MultiplierBackoff grows the delay geometrically from MinDelay, capped at MaxDelay:
//
//	Delay(a) = min(MaxDelay, MinDelay * Multiplier^(a-1))
type MultiplierBackoff struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// NewMultiplierBackoff returns a validated MultiplierBackoff.
func NewMultiplierBackoff(minDelay, maxDelay time.Duration, multiplier float64) (*MultiplierBackoff, error) {
	b := &MultiplierBackoff{MinDelay: minDelay, MaxDelay: maxDelay, Multiplier: multiplier}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks MinDelay > 0, MaxDelay >= MinDelay and Multiplier >= 1.
func (b MultiplierBackoff) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.MinDelay, validation.Required, validation.Min(time.Nanosecond)),
		validation.Field(&b.MaxDelay, validation.Required, validation.Min(b.MinDelay)),
		validation.Field(&b.Multiplier, validation.Required, validation.Min(1.0)),
	)
}

// Delay returns the delay for attempt. Attempts below 1 are treated as 1.
func (b MultiplierBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.MinDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(d)
}

// Schedule returns the delays for attempts 1..n.
func (b MultiplierBackoff) Schedule(n int) []time.Duration {
	out := make([]time.Duration, 0, max(n, 0))
	for a := 1; a <= n; a++ {
		out = append(out, b.Delay(a))
	}
	return out
}

// Fixed is a Backoff that always returns the same delay.
type Fixed time.Duration

func (f Fixed) Delay(int) time.Duration { return time.Duration(f) }
