package httpclient

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig holds the retry behavior configuration.
// Retries are off unless a builder opts in with RequestBuilder.Retry.
//
// Only idempotent methods (GET, HEAD, OPTIONS, PUT, DELETE) are retried, and
// only when the remote never saw the request or never answered:
// pool exhaustion, connect timeouts and transport failures. Status errors,
// read timeouts and breaker rejections are returned at once.
//
// Every attempt is a full call with its own connect deadline and budget.
// The fallback runs once, after the last attempt.
//
// Example usage:
//
//	resp, err := client.NewRequest("GetCompany", "Accounts", "/v1/companies/{0}", id).
//	    Retry(httpclient.DefaultRetryConfig()).
//	    Get(ctx)
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// The initial attempt is not counted as a retry.
	// Default: 3
	MaxRetries uint `mapstructure:"max_retries"`

	// InitialInterval is the first backoff interval.
	// Default: 500ms
	InitialInterval time.Duration `mapstructure:"initial_interval"`

	// MaxInterval caps the backoff interval.
	// Default: 30s
	MaxInterval time.Duration `mapstructure:"max_interval"`

	// MaxElapsedTime is the total time budget for the entire retry sequence.
	// Set to 0 for no time limit (only MaxRetries applies).
	// Default: 2m
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`

	// Multiplier controls exponential growth of backoff intervals.
	// Default: 2.0
	Multiplier float64 `mapstructure:"multiplier"`

	// JitterFactor adds randomization to prevent retry storms.
	// Value between 0.0 and 1.0.
	// Default: 0.5
	JitterFactor float64 `mapstructure:"jitter_factor"`

	// Strategy picks the interval growth. Multiplier only applies to
	// BackoffExponential.
	// Default: BackoffExponential
	Strategy BackoffStrategy `mapstructure:"strategy"`
}

// Default values for RetryConfig.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
	DefaultMultiplier      = 2.0

	// DefaultJitterFactor is the default randomization factor.
	// 0.5 means ±50% randomization.
	DefaultJitterFactor = 0.5
)

// DefaultRetryConfig returns balanced defaults for general use.
//
// Configuration:
//   - 3 retries with exponential backoff (500ms → 1s → 2s)
//   - 2 minute total time budget
//   - 50% jitter
//   - 30s maximum interval cap
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
		Multiplier:      DefaultMultiplier,
		JitterFactor:    DefaultJitterFactor,
	}
}

// ConservativeRetryConfig returns configuration for expensive or rate-limited services.
//
// Configuration:
//   - 2 retries with slower start (1s → 2s)
//   - 30 second total time budget
//   - 10s maximum interval cap
func ConservativeRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 1 * time.Second,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.5,
	}
}

// NoRetryConfig returns configuration that disables retries entirely.
func NoRetryConfig() RetryConfig {
	return RetryConfig{}
}

// IsEnabled returns true if retries are enabled.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

// ExponentialBackOffFromConfig creates a backoff.ExponentialBackOff from RetryConfig.
// A jitter factor of zero or less is replaced by DefaultJitterFactor.
func ExponentialBackOffFromConfig(cfg RetryConfig) *backoff.ExponentialBackOff {
	jitterFactor := cfg.JitterFactor
	if jitterFactor <= 0 {
		jitterFactor = DefaultJitterFactor
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: jitterFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxInterval,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultInitialInterval
	}
	if b.Multiplier <= 0 {
		b.Multiplier = DefaultMultiplier
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultMaxInterval
	}
	b.Reset()
	return b
}

// retryOptions builds the backoff.Retry options for cfg.
// The strategy has already been checked by RequestBuilder.Call.
func retryOptions(cfg RetryConfig, notify backoff.Notify) []backoff.RetryOption {
	b, err := newBackOff(cfg)
	if err != nil {
		b = ExponentialBackOffFromConfig(cfg)
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxRetries + 1), // +1 because initial attempt is counted
	}
	if cfg.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(cfg.MaxElapsedTime))
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return opts
}

// isRetryable reports whether a failed attempt may be re-sent: the remote
// either never received the request or never answered it.
func isRetryable(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Phase == PhaseConnect
	}
	return errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrTransport)
}
