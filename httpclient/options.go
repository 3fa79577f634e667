// Package httpclient configuration.
//
// Configuration Presets:
//   - DefaultConfig: 10s connect, 60s read, 2 connections per route
//   - HighThroughputConfig: more connections per route for busy callers
//   - LowLatencyConfig: short timeouts for latency-sensitive callers
//   - ConservativeConfig: long timeouts and few connections
package httpclient

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/callguard/httpclient"

	// DefaultFailureThreshold is the status code at or above which a call fails.
	DefaultFailureThreshold = http.StatusInternalServerError
)

// =============================================================================
// Config - Transport and Timeout Configuration
// =============================================================================

// Config holds the per-client timeout and pool parameters.
// Use DefaultConfig() to get a properly initialized configuration,
// then modify specific fields as needed.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.ReadTimeout = 5 * time.Second
//
//	client, err := httpclient.New("https://api.example.com",
//	    httpclient.WithConfig(cfg),
//	)
//
// Config carries mapstructure tags so it can be loaded with LoadConfig.
type Config struct {
	// ConnectTimeout bounds everything before the request is written:
	// rate limit wait, pool lease and TCP/TLS connection setup.
	//
	// Default: 10s
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// ReadTimeout is the maximum idle period while waiting for response
	// bytes. It restarts on every chunk read, so a slow but steady body
	// does not time out.
	//
	// Default: 60s
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// MaxConnsPerRoute bounds concurrent leases to a single host.
	//
	// Default: 2
	MaxConnsPerRoute int `mapstructure:"max_conns_per_route"`

	// MaxConnsTotal bounds concurrent leases across all hosts.
	//
	// Default: 20
	MaxConnsTotal int `mapstructure:"max_conns_total"`

	// ValidateAfterInactivity is how long an idle connection is reused
	// before it is closed and a fresh one dialed.
	//
	// Default: 60s
	ValidateAfterInactivity time.Duration `mapstructure:"validate_after_inactivity"`

	// KeepAlive specifies the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration `mapstructure:"keep_alive"`

	// FailureThreshold is the default status code at or above which a
	// call is reported as failed. Builders may override it per request.
	//
	// Default: 500
	FailureThreshold int `mapstructure:"failure_threshold"`

	// DisableKeepAlives disables HTTP keep-alives.
	//
	// Default: false
	DisableKeepAlives bool `mapstructure:"disable_keep_alives"`
}

// DefaultConfig returns the defaults every client starts with.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:          10 * time.Second,
		ReadTimeout:             60 * time.Second,
		MaxConnsPerRoute:        2,
		MaxConnsTotal:           20,
		ValidateAfterInactivity: 60 * time.Second,
		KeepAlive:               30 * time.Second,
		FailureThreshold:        DefaultFailureThreshold,
	}
}

// HighThroughputConfig returns a configuration for callers issuing many
// concurrent requests to the same host.
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 5 * time.Second
	cfg.ReadTimeout = 30 * time.Second
	cfg.MaxConnsPerRoute = 50
	cfg.MaxConnsTotal = 200
	cfg.ValidateAfterInactivity = 90 * time.Second
	return cfg
}

// LowLatencyConfig returns a configuration that fails fast.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 1 * time.Second
	cfg.ReadTimeout = 5 * time.Second
	cfg.MaxConnsPerRoute = 20
	cfg.MaxConnsTotal = 100
	cfg.ValidateAfterInactivity = 30 * time.Second
	return cfg
}

// ConservativeConfig returns a configuration for slow or fragile backends.
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 15 * time.Second
	cfg.ReadTimeout = 120 * time.Second
	cfg.MaxConnsPerRoute = 2
	cfg.MaxConnsTotal = 10
	return cfg
}

// Validate reports whether the configuration can build a client.
func (c Config) Validate() error {
	switch {
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("%w: connect timeout must be positive", ErrConfiguration)
	case c.ReadTimeout <= 0:
		return fmt.Errorf("%w: read timeout must be positive", ErrConfiguration)
	case c.MaxConnsPerRoute < 1:
		return fmt.Errorf("%w: max connections per route must be at least 1", ErrConfiguration)
	case c.MaxConnsTotal < 1:
		return fmt.Errorf("%w: max connections total must be at least 1", ErrConfiguration)
	case c.ValidateAfterInactivity < 0:
		return fmt.Errorf("%w: validate after inactivity must not be negative", ErrConfiguration)
	case c.FailureThreshold < 100 || c.FailureThreshold > 999:
		return fmt.Errorf("%w: failure threshold %d is not an HTTP status", ErrConfiguration, c.FailureThreshold)
	}
	return nil
}

// =============================================================================
// internalConfig
// =============================================================================

type internalConfig struct {
	// HTTP transport configuration
	httpConfig Config

	// Auth is the initial auth strategy. Default: NoAuth.
	Auth AuthStrategy

	// ServiceName names the breaker and is added as "http.client.name"
	// to spans and metrics.
	ServiceName string

	// Logger receives call lifecycle events. Default: zerolog.Nop().
	Logger zerolog.Logger

	// Debug adds headers and bodies to the debug-level events.
	Debug bool

	// === OpenTelemetry Configuration ===

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics
	Propagators    propagation.TextMapPropagator

	// === Resilience ===

	// BreakerConfig configures the per-client circuit breaker.
	BreakerConfig BreakerConfig

	// Breaker replaces the gobreaker instance built from BreakerConfig.
	Breaker CircuitBreaker

	// RateLimit configures an optional client-level rate limit.
	RateLimit RateLimitConfig

	// === Transport ===

	TLSConfig            *tls.Config
	ProxyURL             *url.URL
	ProxyFromEnvironment bool

	// Transport replaces the pooled http.Transport. Leases are still
	// accounted by the pool.
	Transport http.RoundTripper
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:           DefaultConfig(),
		Auth:                 NoAuth{},
		Logger:               zerolog.Nop(),
		TracerProvider:       otel.GetTracerProvider(),
		MeterProvider:        otel.GetMeterProvider(),
		Propagators:          otel.GetTextMapPropagator(),
		BreakerConfig:        DefaultBreakerConfig(),
		ProxyFromEnvironment: true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Metrics stay nil if instrument creation fails; record methods are nil-safe.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options - Functional Options for Client Configuration
// =============================================================================

// Option configures the HTTP client.
type Option func(*internalConfig)

// WithConfig sets the timeout and pool configuration.
// Use DefaultConfig(), HighThroughputConfig(), LowLatencyConfig(), or
// ConservativeConfig() as a starting point, then customize as needed.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithConnectTimeout overrides Config.ConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig.ConnectTimeout = d
	}
}

// WithReadTimeout overrides Config.ReadTimeout.
func WithReadTimeout(d time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig.ReadTimeout = d
	}
}

// WithMaxConnsPerRoute overrides Config.MaxConnsPerRoute.
func WithMaxConnsPerRoute(n int) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig.MaxConnsPerRoute = n
	}
}

// WithAuth sets the initial auth strategy.
//
// Example:
//
//	auth, _ := httpclient.NewPrivateAuth(appID, appSecret)
//	client, err := httpclient.New(baseURL, httpclient.WithAuth(auth))
func WithAuth(a AuthStrategy) Option {
	return func(cfg *internalConfig) {
		cfg.Auth = a
	}
}

// WithServiceName sets an identifier for this client.
// It names the circuit breaker and is added as the "http.client.name"
// attribute on spans and metrics.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithLogger sets the zerolog logger for call lifecycle events.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithDebug adds request and response headers and bodies to debug-level events.
// Authorization values are masked.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Debug = enabled
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		if tp != nil {
			cfg.TracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		if mp != nil {
			cfg.MeterProvider = mp
		}
	}
}

// WithPropagators sets the propagators used to inject trace context into
// outgoing request headers.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		if p != nil {
			cfg.Propagators = p
		}
	}
}

// WithBreakerConfig configures the circuit breaker.
//
// Example - distributed breaker shared through Redis:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	client, err := httpclient.New(baseURL,
//	    httpclient.WithServiceName("ius"),
//	    httpclient.WithBreakerConfig(httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb))),
//	)
func WithBreakerConfig(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = bc
	}
}

// WithBreaker replaces the circuit breaker implementation.
func WithBreaker(cb CircuitBreaker) Option {
	return func(cfg *internalConfig) {
		cfg.Breaker = cb
	}
}

// WithRateLimit enables a client-level rate limit. The wait for a token is
// bounded by the connect timeout.
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimit = rl
	}
}

// WithTLSConfig sets the TLS configuration for the pooled transport.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxyURL routes all requests through the given proxy.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
	}
}

// WithProxyFromEnvironment toggles HTTP_PROXY/HTTPS_PROXY/NO_PROXY support.
// Default: true
func WithProxyFromEnvironment(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyFromEnvironment = enabled
	}
}

// WithTransport replaces the pooled http.Transport, typically with a
// MockTransport in tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = rt
	}
}
