package httpclient

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackOff(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RetryConfig
		wantErr bool
		check   func(*testing.T, backoff.BackOff)
	}{
		{
			name: "given no strategy, then exponential",
			cfg:  DefaultRetryConfig(),
			check: func(t *testing.T, b backoff.BackOff) {
				assert.IsType(t, &backoff.ExponentialBackOff{}, b)
			},
		},
		{
			name: "given decorrelated jitter, then bounded by base and cap",
			cfg: RetryConfig{
				Strategy:        BackoffDecorrelatedJitter,
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     time.Second,
			},
			check: func(t *testing.T, b backoff.BackOff) {
				require.IsType(t, &DecorrelatedJitterBackOff{}, b)
				for range 50 {
					d := b.NextBackOff()
					assert.GreaterOrEqual(t, d, 100*time.Millisecond)
					assert.LessOrEqual(t, d, time.Second)
				}
			},
		},
		{
			name: "given constant without jitter, then fixed interval",
			cfg: RetryConfig{
				Strategy:        BackoffConstant,
				InitialInterval: 200 * time.Millisecond,
			},
			check: func(t *testing.T, b backoff.BackOff) {
				for range 5 {
					assert.Equal(t, 200*time.Millisecond, b.NextBackOff())
				}
			},
		},
		{
			name: "given constant with jitter, then within the jitter range",
			cfg: RetryConfig{
				Strategy:        BackoffConstant,
				InitialInterval: time.Second,
				JitterFactor:    0.25,
			},
			check: func(t *testing.T, b backoff.BackOff) {
				for range 50 {
					d := b.NextBackOff()
					assert.GreaterOrEqual(t, d, 750*time.Millisecond)
					assert.LessOrEqual(t, d, 1250*time.Millisecond)
				}
			},
		},
		{
			name: "given zero intervals, then defaults apply",
			cfg:  RetryConfig{Strategy: BackoffDecorrelatedJitter},
			check: func(t *testing.T, b backoff.BackOff) {
				d := b.(*DecorrelatedJitterBackOff)
				assert.Equal(t, DefaultInitialInterval, d.Base)
				assert.Equal(t, DefaultMaxInterval, d.Cap)
			},
		},
		{
			name:    "given unknown strategy, then configuration error",
			cfg:     RetryConfig{Strategy: "fibonacci"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := newBackOff(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfiguration)
				return
			}
			require.NoError(t, err)
			tt.check(t, b)
		})
	}
}

func TestApplyJitter(t *testing.T) {
	tests := []struct {
		name   string
		factor float64
		min    time.Duration
		max    time.Duration
	}{
		{name: "given zero factor, then unchanged", factor: 0, min: time.Second, max: time.Second},
		{name: "given half factor, then within 50 percent", factor: 0.5, min: 500 * time.Millisecond, max: 1500 * time.Millisecond},
		{name: "given factor above one, then clamped", factor: 3, min: 0, max: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 20 {
				d := applyJitter(time.Second, tt.factor)
				assert.GreaterOrEqual(t, d, tt.min)
				assert.LessOrEqual(t, d, tt.max)
			}
		})
	}
}

func TestRandomBetween(t *testing.T) {
	assert.Equal(t, time.Second, randomBetween(time.Second, time.Second))
	assert.Equal(t, time.Second, randomBetween(time.Second, time.Millisecond))

	for range 20 {
		d := randomBetween(time.Millisecond, 10*time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Millisecond)
		assert.Less(t, d, 10*time.Millisecond)
	}
}

func TestRequestBuilder_UnknownBackoffStrategy(t *testing.T) {
	mt := NewMockTransport().StubJSON(http.StatusOK, `{}`)
	client := newTestClient(t, mt)

	_, err := client.NewRequest("E", "G", "/x").
		Retry(RetryConfig{MaxRetries: 1, Strategy: "fibonacci"}).
		Get(context.Background())

	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Zero(t, mt.RequestCount())
}
