package httpclient

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// defaultBreakerName is used when no service name was configured.
const defaultBreakerName = "default-http-client"

// NewRedisStore creates a SharedDataStore backed by Redis for distributed circuit breaking.
// This uses the official sony/gobreaker/v2/redis implementation.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	store := httpclient.NewRedisStore(rdb)
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker is the interface a Call executes through.
// It matches gobreaker.CircuitBreaker signature.
type CircuitBreaker interface {
	Execute(req func() (interface{}, error)) (interface{}, error)
}

// BreakerClassifier reports whether a call error counts as a breaker failure.
type BreakerClassifier func(err error) bool

// BreakerConfig holds the configuration for the circuit breaker.
//
// Concepts:
//   - Closed: Normal state, requests allowed.
//   - Open: Failing state, requests rejected immediately.
//   - Half-Open: Probing state, limited requests allowed to test recovery.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the circuit breaker is half-open (probing).
	// If 0, the circuit breaker allows 1 request.
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Interval is the cyclic period of the closed state
	// for the CircuitBreaker to clear the internal Counts.
	// If 0, the CircuitBreaker doesn't clear internal Counts during the closed state.
	Interval time.Duration `mapstructure:"interval"`

	// Timeout is the period of the open state,
	// after which the state of the CircuitBreaker becomes half-open.
	// gobreaker defaults this to 60s if 0.
	Timeout time.Duration `mapstructure:"timeout"`

	// FailureThreshold is the minimum number of requests needed before a
	// circuit can be tripped.
	FailureThreshold uint32 `mapstructure:"failure_threshold"`

	// FailureRatio is the threshold of failure ratio (0.0 - 1.0) to trip the circuit.
	FailureRatio float64 `mapstructure:"failure_ratio"`

	// ConsecutiveFailures is the number of consecutive failures that will trip the circuit.
	// If 0, this rule is disabled.
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures"`

	// Store is the shared data store for distributed circuit breaking.
	// If nil, the circuit breaker is local (in-memory).
	Store gobreaker.SharedDataStore `mapstructure:"-"`

	// Classifier determines which errors count as failures.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier `mapstructure:"-"`

	// OnStateChange is a callback invoked when the circuit breaker state changes.
	OnStateChange func(name string, from, to gobreaker.State) `mapstructure:"-"`
}

// DistributedBreakerConfig returns a configuration for a distributed circuit breaker backed by Redis.
//
// This configuration allows multiple service instances to share the same circuit breaker state.
// If one instance trips the breaker, all instances will stop sending requests to the failing service.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerConfig returns a safe default configuration for a local (in-memory) circuit breaker.
//
// Defaults:
//   - Interval: 10s
//   - Timeout: 10s (Fail fast, recover fast)
//   - FailureThreshold: 20 (Minimum requests before triggering)
//   - FailureRatio: 0.5 (50% failure rate)
//   - ConsecutiveFailures: 5 (Trip immediately after 5 sequential failures)
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DisabledBreakerConfig returns a configuration that never trips.
func DisabledBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      0,
		Interval:         0,
		Timeout:          0,
		FailureThreshold: ^uint32(0),
		FailureRatio:     1.0,
		Classifier:       func(error) bool { return false },
	}
}

// DefaultBreakerClassifier counts every call error as a failure except a
// caller that gave up on its own context.
func DefaultBreakerClassifier(err error) bool {
	if err == nil {
		return false
	}
	var cc *callerCanceled
	return !errors.As(err, &cc)
}

// readyToTrip builds the gobreaker trip function from the config thresholds.
func (bc BreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
		return true
	}
	if bc.FailureThreshold > 0 && counts.Requests < bc.FailureThreshold {
		return false
	}
	if bc.FailureRatio > 0 && counts.TotalFailures > 0 {
		ratio := float64(counts.TotalFailures) / float64(counts.Requests)
		if ratio >= bc.FailureRatio {
			return true
		}
	}
	return false
}

// breakerState mirrors the breaker state for stats and metrics. Distributed
// breakers keep their state in the store, so it is tracked from state changes.
type breakerState struct {
	v atomic.Int32
}

func (s *breakerState) load() gobreaker.State { return gobreaker.State(s.v.Load()) }

// newBreaker creates the circuit breaker that guards every call of a client.
func newBreaker(
	name string,
	bc BreakerConfig,
	m *metrics,
	logger zerolog.Logger,
	state *breakerState,
) CircuitBreaker {
	classifier := bc.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: bc.readyToTrip,
		IsSuccessful: func(err error) bool {
			return !classifier(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			state.v.Store(int32(to))
			m.recordBreakerState(context.Background(), name, int64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[interface{}](bc.Store, st)
		if err == nil {
			return dcb
		}
		// A local breaker still protects this process when the shared one
		// cannot be created.
		logger.Error().Err(err).Str("breaker", name).
			Msg("distributed circuit breaker unavailable, using local breaker")
	}

	return gobreaker.NewCircuitBreaker[interface{}](st)
}

// isBreakerRejection reports whether err came from the breaker itself rather
// than from the guarded call.
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
