package httpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, uint(DefaultMaxRetries), cfg.MaxRetries)
	assert.Equal(t, DefaultInitialInterval, cfg.InitialInterval)
	assert.Equal(t, DefaultMaxInterval, cfg.MaxInterval)
	assert.Equal(t, DefaultMaxElapsedTime, cfg.MaxElapsedTime)
	assert.InDelta(t, DefaultMultiplier, cfg.Multiplier, 0.001)
	assert.InDelta(t, DefaultJitterFactor, cfg.JitterFactor, 0.001)
	assert.True(t, cfg.IsEnabled())
}

func TestConservativeRetryConfig(t *testing.T) {
	cfg := ConservativeRetryConfig()

	assert.Equal(t, uint(2), cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialInterval)
	assert.Equal(t, 10*time.Second, cfg.MaxInterval)
	assert.Equal(t, 30*time.Second, cfg.MaxElapsedTime)
}

func TestNoRetryConfig(t *testing.T) {
	assert.False(t, NoRetryConfig().IsEnabled())
}

func TestExponentialBackOffFromConfig(t *testing.T) {
	tests := []struct {
		name            string
		cfg             RetryConfig
		wantInitial     time.Duration
		wantMax         time.Duration
		wantMultiplier  float64
		wantRandomizing float64
	}{
		{
			name:            "given zero config, then defaults are applied",
			cfg:             RetryConfig{},
			wantInitial:     DefaultInitialInterval,
			wantMax:         DefaultMaxInterval,
			wantMultiplier:  DefaultMultiplier,
			wantRandomizing: DefaultJitterFactor,
		},
		{
			name: "given explicit config, then it is kept",
			cfg: RetryConfig{
				InitialInterval: 10 * time.Millisecond,
				MaxInterval:     time.Second,
				Multiplier:      3,
				JitterFactor:    0.1,
			},
			wantInitial:     10 * time.Millisecond,
			wantMax:         time.Second,
			wantMultiplier:  3,
			wantRandomizing: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ExponentialBackOffFromConfig(tt.cfg)

			assert.Equal(t, tt.wantInitial, b.InitialInterval)
			assert.Equal(t, tt.wantMax, b.MaxInterval)
			assert.InDelta(t, tt.wantMultiplier, b.Multiplier, 0.001)
			assert.InDelta(t, tt.wantRandomizing, b.RandomizationFactor, 0.001)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "given connect timeout, then retryable", err: &TimeoutError{Phase: PhaseConnect}, want: true},
		{name: "given read timeout, then not retryable", err: &TimeoutError{Phase: PhaseRead}, want: false},
		{name: "given budget timeout, then not retryable", err: &TimeoutError{Phase: PhaseBudget}, want: false},
		{name: "given pool exhaustion, then retryable", err: &PoolExhaustedError{Route: "api.test"}, want: true},
		{name: "given transport error, then retryable", err: &TransportError{Method: "GET", Err: errors.New("reset")}, want: true},
		{name: "given status error, then not retryable", err: &StatusError{Method: "GET", StatusCode: 503}, want: false},
		{name: "given breaker rejection, then not retryable", err: &BreakerOpenError{Name: "x", Err: errors.New("open")}, want: false},
		{name: "given rate limit, then not retryable", err: ErrRateLimited, want: false},
		{name: "given caller cancellation, then not retryable", err: &callerCanceled{err: context.Canceled}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}
