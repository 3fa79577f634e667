package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Client is a long-lived, resilient HTTP client for one target host.
//
// A Client owns one connection pool, one circuit breaker and one auth
// strategy. It is a factory for RequestBuilders; every call it issues runs
// through the shared pool and breaker and is bounded by the connect and read
// timeouts current when its request was created.
//
// Create a Client using New():
//
//	auth, _ := httpclient.NewPrivateAuth(appID, appSecret)
//	client, err := httpclient.New("https://accounts.example.com",
//	    httpclient.WithAuth(auth),
//	    httpclient.WithServiceName("accounts"),
//	    httpclient.WithLogger(logger),
//	)
//
//	resp, err := client.NewRequest("GetCompany", "Accounts", "/v1/companies/{0}", companyID).
//	    Get(ctx)
//
// A Client is safe for concurrent use.
type Client struct {
	baseURL string

	// cfg holds the construction-time configuration.
	cfg *internalConfig
	log callLogger

	pool          *ConnectionPool
	breaker       CircuitBreaker
	breakerName   string
	breakerState  *breakerState
	gate          *rateGate
	endpointGates *endpointGates

	// mu guards the mutable settings below. Builders snapshot them.
	mu               sync.RWMutex
	auth             AuthStrategy
	connectTimeout   time.Duration
	readTimeout      time.Duration
	failureThreshold int
}

// New creates a Client for baseURL.
//
// Errors:
//   - ErrConfiguration: blank baseURL, invalid Config or a nil auth strategy
//
// Example - distributed breaker and a client rate limit:
//
//	client, err := httpclient.New("https://ius.example.com",
//	    httpclient.WithConfig(httpclient.LowLatencyConfig()),
//	    httpclient.WithBreakerConfig(httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb))),
//	    httpclient.WithRateLimit(httpclient.DefaultRateLimitConfig()),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	if isBlank(baseURL) {
		return nil, fmt.Errorf("%w: base url must not be blank", ErrConfiguration)
	}

	cfg := newConfig(opts...)
	if err := cfg.httpConfig.Validate(); err != nil {
		return nil, err
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("%w: auth strategy must not be nil", ErrConfiguration)
	}

	hc := cfg.httpConfig
	pool := newConnectionPool(poolSettings{
		maxPerRoute:       hc.MaxConnsPerRoute,
		maxTotal:          hc.MaxConnsTotal,
		idleTimeout:       hc.ValidateAfterInactivity,
		keepAlive:         hc.KeepAlive,
		tlsHandshake:      hc.ConnectTimeout,
		disableKeepAlives: hc.DisableKeepAlives,
		tlsConfig:         cfg.TLSConfig,
		proxy:             cfg.proxy(),
	}, cfg.Transport, cfg.Metrics)

	name := cfg.ServiceName
	if name == "" {
		name = defaultBreakerName
	}

	state := &breakerState{}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = newBreaker(name, cfg.BreakerConfig, cfg.Metrics, cfg.Logger, state)
	}

	c := &Client{
		baseURL:          strings.TrimSuffix(baseURL, "/"),
		cfg:              cfg,
		log:              callLogger{logger: cfg.Logger, debug: cfg.Debug},
		pool:             pool,
		breaker:          breaker,
		breakerName:      name,
		breakerState:     state,
		gate:             newRateGate(cfg.RateLimit),
		endpointGates:    newEndpointGates(),
		auth:             cfg.Auth,
		connectTimeout:   hc.ConnectTimeout,
		readTimeout:      hc.ReadTimeout,
		failureThreshold: hc.FailureThreshold,
	}

	cfg.Logger.Debug().
		Str("base_url", c.baseURL).
		Str("auth", c.auth.Kind().String()).
		Str("breaker", name).
		Dur("connect_timeout", hc.ConnectTimeout).
		Dur("read_timeout", hc.ReadTimeout).
		Int("max_conns_per_route", hc.MaxConnsPerRoute).
		Msg("HTTP client created")

	return c, nil
}

// proxy returns the proxy selector for the pooled transport.
func (cfg *internalConfig) proxy() func(*http.Request) (*url.URL, error) {
	if cfg.ProxyURL != nil {
		return http.ProxyURL(cfg.ProxyURL)
	}
	if cfg.ProxyFromEnvironment {
		return http.ProxyFromEnvironment
	}
	return nil
}

// BaseURL returns the base URL every request path is joined to.
func (c *Client) BaseURL() string { return c.baseURL }

// NewRequest creates a RequestBuilder for pathTemplate.
//
// Placeholders {0}, {1}, ... are replaced by the path-escaped string form of
// the matching param. The current auth strategy's header is attached; a
// strategy that needs per-call params (OfflineTicket) leaves the builder
// unusable until Client.WithAuthHeader supplies them.
//
// The builder captures the client's connect timeout, read timeout and
// failure threshold as they are now.
//
// Example:
//
//	rb := client.NewRequest("GetUser", "Users", "/v1/companies/{0}/users/{1}", companyID, userID)
func (c *Client) NewRequest(endpointID, groupID, pathTemplate string, params ...any) *RequestBuilder {
	c.mu.RLock()
	auth := c.auth
	rb := &RequestBuilder{
		client:           c,
		endpointID:       endpointID,
		groupID:          groupID,
		rawURL:           joinURL(c.baseURL, expandPath(pathTemplate, params)),
		headers:          make(map[string]string),
		failureThreshold: c.failureThreshold,
		connectTimeout:   c.connectTimeout,
		readTimeout:      c.readTimeout,
	}
	c.mu.RUnlock()

	c.applyAuth(rb, auth)
	return rb
}

// WithAuthHeader re-attaches the auth header using per-call params, as
// needed by PrivateAuthPlus and OfflineTicket.
//
// Example:
//
//	rb := client.NewRequest("GetUser", "Users", "/v1/users/{0}", userID)
//	resp, err := client.WithAuthHeader(rb, ticket, userID).Get(ctx)
func (c *Client) WithAuthHeader(rb *RequestBuilder, ticket, userID string) *RequestBuilder {
	return c.WithAuthParams(rb, ticket, userID)
}

// WithAuthParams re-attaches the auth header using arbitrary per-call params.
func (c *Client) WithAuthParams(rb *RequestBuilder, params ...string) *RequestBuilder {
	c.applyAuth(rb, c.Auth(), params...)
	return rb
}

func (c *Client) applyAuth(rb *RequestBuilder, auth AuthStrategy, params ...string) {
	header, err := auth.Header(params...)
	if err != nil {
		rb.authErr = err
		return
	}
	rb.authErr = nil
	if header == "" {
		delete(rb.headers, "Authorization")
		return
	}
	rb.headers["Authorization"] = header
}

// Auth returns the current auth strategy.
func (c *Client) Auth() AuthStrategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// SetAuth replaces the auth strategy for requests created afterwards.
func (c *Client) SetAuth(auth AuthStrategy) error {
	if auth == nil {
		return fmt.Errorf("%w: auth strategy must not be nil", ErrConfiguration)
	}
	c.mu.Lock()
	c.auth = auth
	c.mu.Unlock()
	c.cfg.Logger.Debug().Str("auth", auth.Kind().String()).Msg("HTTP client auth changed")
	return nil
}

// ConnectTimeout returns the connect timeout new requests capture.
func (c *Client) ConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectTimeout
}

// SetConnectTimeout changes the connect timeout for requests created
// afterwards. It also bounds TLS handshakes on the pooled transport.
func (c *Client) SetConnectTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrConfiguration)
	}
	c.mu.Lock()
	c.connectTimeout = d
	c.mu.Unlock()
	c.pool.SetTLSHandshakeTimeout(d)
	return nil
}

// ReadTimeout returns the read timeout new requests capture.
func (c *Client) ReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readTimeout
}

// SetReadTimeout changes the read timeout for requests created afterwards.
func (c *Client) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: read timeout must be positive", ErrConfiguration)
	}
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
	return nil
}

// SetMaxConnsPerRoute changes the per-host connection limit. Calls holding a
// lease keep it; new leases see the new limit.
func (c *Client) SetMaxConnsPerRoute(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: max connections per route must be at least 1", ErrConfiguration)
	}
	c.pool.SetMaxPerRoute(n)
	return nil
}

// SetValidateAfterInactivity changes how long idle connections are reused.
func (c *Client) SetValidateAfterInactivity(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: validate after inactivity must not be negative", ErrConfiguration)
	}
	c.pool.SetIdleTimeout(d)
	return nil
}

// PoolStats returns a snapshot of connection pool usage.
func (c *Client) PoolStats() PoolStats {
	return c.pool.Stats()
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	if s, ok := c.breaker.(interface{ State() gobreaker.State }); ok {
		return s.State()
	}
	return c.breakerState.load()
}

// BreakerName returns the name of the client's circuit breaker.
func (c *Client) BreakerName() string { return c.breakerName }

// RateLimiterStats returns the client-level rate limiter state. The zero
// value means rate limiting is disabled.
func (c *Client) RateLimiterStats() RateLimiterStats {
	return c.gate.stats()
}

// Close releases idle connections. In-flight calls are not interrupted.
func (c *Client) Close() {
	c.pool.Close()
}
