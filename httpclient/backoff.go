package httpclient

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	_ backoff.BackOff = (*DecorrelatedJitterBackOff)(nil)
	_ backoff.BackOff = (*ConstantBackOffWithJitter)(nil)
)

// BackoffStrategy selects how the wait between retry attempts grows.
type BackoffStrategy string

const (
	// BackoffExponential multiplies the interval after every attempt.
	BackoffExponential BackoffStrategy = "exponential"

	// BackoffDecorrelatedJitter draws each interval between InitialInterval
	// and three times the previous one, capped at MaxInterval.
	BackoffDecorrelatedJitter BackoffStrategy = "decorrelated_jitter"

	// BackoffConstant waits InitialInterval ± JitterFactor every time.
	BackoffConstant BackoffStrategy = "constant"
)

// DecorrelatedJitterBackOff spreads retries from many callers more evenly
// than plain exponential jitter.
//
// Formula: sleep = random_between(base, min(cap, previous_sleep × 3))
//
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
type DecorrelatedJitterBackOff struct {
	// Base is the minimum backoff interval.
	Base time.Duration

	// Cap is the maximum backoff interval.
	Cap time.Duration

	sleep time.Duration
}

// Reset resets the backoff to its initial state.
func (b *DecorrelatedJitterBackOff) Reset() {
	b.sleep = b.Base
}

// NextBackOff returns the next interval.
func (b *DecorrelatedJitterBackOff) NextBackOff() time.Duration {
	if b.sleep == 0 {
		b.sleep = b.Base
	}

	upperBound := b.sleep * 3
	if upperBound > b.Cap {
		upperBound = b.Cap
	}

	b.sleep = randomBetween(b.Base, upperBound)
	return b.sleep
}

// ConstantBackOffWithJitter waits a fixed interval with randomization.
//
// With Interval=1s and JitterFactor=0.25 each wait falls in [0.75s, 1.25s].
type ConstantBackOffWithJitter struct {
	Interval     time.Duration
	JitterFactor float64
}

// Reset is a no-op.
func (b *ConstantBackOffWithJitter) Reset() {}

// NextBackOff returns the interval with jitter applied.
func (b *ConstantBackOffWithJitter) NextBackOff() time.Duration {
	return applyJitter(b.Interval, b.JitterFactor)
}

// newBackOff builds the strategy named by cfg.Strategy. Zero intervals fall
// back to the package defaults.
func newBackOff(cfg RetryConfig) (backoff.BackOff, error) {
	initial := cfg.InitialInterval
	if initial <= 0 {
		initial = DefaultInitialInterval
	}
	maxInterval := cfg.MaxInterval
	if maxInterval <= 0 {
		maxInterval = DefaultMaxInterval
	}

	switch cfg.Strategy {
	case "", BackoffExponential:
		return ExponentialBackOffFromConfig(cfg), nil
	case BackoffDecorrelatedJitter:
		b := &DecorrelatedJitterBackOff{Base: initial, Cap: maxInterval}
		b.Reset()
		return b, nil
	case BackoffConstant:
		jitter := cfg.JitterFactor
		if jitter < 0 {
			jitter = 0
		}
		return &ConstantBackOffWithJitter{Interval: initial, JitterFactor: jitter}, nil
	default:
		return nil, fmt.Errorf("%w: unknown backoff strategy %q", ErrConfiguration, cfg.Strategy)
	}
}

// applyJitter returns interval ± interval*jitterFactor, with the factor
// clamped to [0, 1].
func applyJitter(interval time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return interval
	}
	if jitterFactor > 1 {
		jitterFactor = 1
	}

	delta := float64(interval) * jitterFactor
	minInterval := float64(interval) - delta
	maxInterval := float64(interval) + delta

	//nolint:gosec // jitter, not cryptographic
	return time.Duration(minInterval + rand.Float64()*(maxInterval-minInterval))
}

// randomBetween returns a random duration in [minDur, maxDur).
//
//nolint:gosec // jitter, not cryptographic
func randomBetween(minDur, maxDur time.Duration) time.Duration {
	if minDur >= maxDur {
		return minDur
	}
	return minDur + time.Duration(rand.Int64N(int64(maxDur-minDur)))
}
