package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/vvka-141/atomdeploy/pkg/atomdeploy"
)

// ExponentialBackoff spaces out dial attempts: initial * multiplier^attempt,
// capped at max and spread by +/- jitter.
type ExponentialBackoff struct {
	initial     time.Duration
	max         time.Duration
	multiplier  float64
	jitter      float64
	random      func() float64
	maxAttempts int // -1 = unlimited
}

// BackoffOption configures an ExponentialBackoff.
type BackoffOption func(*ExponentialBackoff)

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.initial = d }
}

// WithMaxDelay caps the delay between attempts.
func WithMaxDelay(d time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) { b.max = d }
}

// WithMultiplier sets the growth factor.
func WithMultiplier(m float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.multiplier = m }
}

// WithJitter sets the spread as a fraction of the delay; 0 disables it.
func WithJitter(j float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.jitter = j }
}

// WithJitterFunc replaces the [0, 1) random source.
func WithJitterFunc(f func() float64) BackoffOption {
	return func(b *ExponentialBackoff) { b.random = f }
}

// NewExponentialBackoff defaults to the dial delays in pkg/atomdeploy,
// doubling with 10% jitter.
func NewExponentialBackoff(maxAttempts int, opts ...BackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initial:     atomdeploy.DefaultRetryInitialDelay,
		max:         atomdeploy.DefaultRetryMaxDelay,
		multiplier:  2,
		jitter:      0.1,
		random:      rand.Float64,
		maxAttempts: maxAttempts,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	d := math.Min(float64(b.initial)*math.Pow(b.multiplier, float64(attempt)), float64(b.max))
	if b.jitter > 0 {
		d *= 1 + b.jitter*(2*b.random()-1)
	}
	return time.Duration(d).Round(time.Millisecond)
}

func (b *ExponentialBackoff) MaxAttempts() int {
	return b.maxAttempts
}
