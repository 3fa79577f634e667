package httpclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures client-level rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the maximum sustained request rate.
	// Zero disables rate limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Burst is the maximum number of requests allowed in a burst.
	// This allows brief spikes above the rate limit.
	Burst int `mapstructure:"burst"`

	// WaitOnLimit determines behavior when rate limit is hit.
	// If true, calls wait for a token within their connect timeout.
	// If false, calls immediately fail with ErrRateLimited.
	WaitOnLimit bool `mapstructure:"wait_on_limit"`
}

// DefaultRateLimitConfig returns a sensible default rate limit configuration.
// 100 requests per second with a burst of 10.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// ErrRateLimited is returned when a call is rejected due to rate limiting.
// Rate-limited calls never reach the circuit breaker.
var ErrRateLimited = errors.New("rate limit exceeded")

// rateGate applies a limiter with the configured wait behaviour.
type rateGate struct {
	limiter *rate.Limiter
	wait    bool
}

// newRateGate returns nil when rate limiting is disabled.
func newRateGate(cfg RateLimitConfig) *rateGate {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &rateGate{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		wait:    cfg.WaitOnLimit,
	}
}

// take obtains a token before deadline. A nil gate always succeeds.
func (g *rateGate) take(ctx context.Context, deadline time.Time) error {
	if g == nil {
		return nil
	}

	if !g.wait {
		if !g.limiter.Allow() {
			return ErrRateLimited
		}
		return nil
	}

	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := g.limiter.Wait(waitCtx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &callerCanceled{err: ctxErr}
		}
		return ErrRateLimited
	}
	return nil
}

// RequestRateLimitConfig configures a rate limit shared by every request
// with the same endpoint ID on a client.
type RequestRateLimitConfig struct {
	// RequestsPerSecond for this specific endpoint.
	RequestsPerSecond float64

	// Burst allows brief spikes above the rate limit.
	Burst int

	// WaitOnLimit determines behavior when rate limit is hit.
	WaitOnLimit bool
}

// endpointGates manages per-endpoint rate limiters.
type endpointGates struct {
	mu    sync.RWMutex
	gates map[string]*rateGate
}

func newEndpointGates() *endpointGates {
	return &endpointGates{gates: make(map[string]*rateGate)}
}

// getOrCreate returns the gate for endpointID, creating one if needed.
// The first configuration seen for an endpoint wins.
func (e *endpointGates) getOrCreate(endpointID string, cfg RequestRateLimitConfig) *rateGate {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}

	e.mu.RLock()
	if g, ok := e.gates[endpointID]; ok {
		e.mu.RUnlock()
		return g
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock
	if g, ok := e.gates[endpointID]; ok {
		return g
	}

	g := newRateGate(RateLimitConfig(cfg))
	e.gates[endpointID] = g
	return g
}

// RateLimiterStats provides visibility into rate limiter state.
type RateLimiterStats struct {
	// Limit is the maximum rate per second.
	Limit float64
	// Burst is the maximum burst size.
	Burst int
	// TokensAvailable is the current number of tokens.
	TokensAvailable float64
}

func (g *rateGate) stats() RateLimiterStats {
	if g == nil {
		return RateLimiterStats{}
	}
	return RateLimiterStats{
		Limit:           float64(g.limiter.Limit()),
		Burst:           g.limiter.Burst(),
		TokensAvailable: g.limiter.Tokens(),
	}
}
