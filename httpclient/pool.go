package httpclient

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// =============================================================================
// Pool Stats Types
// =============================================================================

// PoolStats is a snapshot of connection pool usage.
//
// Example usage:
//
//	stats := client.PoolStats()
//	fmt.Printf("leased %d of %d, %d waiting\n", stats.Leased, stats.MaxTotal, stats.Pending)
type PoolStats struct {
	// Leased is the number of connection slots currently held by calls.
	Leased int

	// Pending is the number of calls waiting for a lease.
	Pending int

	// Available is MaxTotal minus Leased.
	Available int

	// MaxPerRoute is the current per-host limit.
	MaxPerRoute int

	// MaxTotal is the limit across all hosts.
	MaxTotal int

	// Routes is the number of hosts with a lease table entry.
	Routes int

	// IdleConnTimeout is how long idle connections are kept before closing.
	IdleConnTimeout time.Duration
}

// =============================================================================
// ConnectionPool
// =============================================================================

// poolSettings is the subset of Config the pool is built from.
type poolSettings struct {
	maxPerRoute       int
	maxTotal          int
	idleTimeout       time.Duration
	keepAlive         time.Duration
	tlsHandshake      time.Duration
	disableKeepAlives bool
	tlsConfig         *tls.Config
	proxy             func(*http.Request) (*url.URL, error)
}

// ConnectionPool bounds concurrent connections per host and in total, and
// owns the shared http.Transport the connections live in.
//
// Leases are counted with weighted semaphores. Changing the per-route limit
// installs a fresh lease table; calls already holding a lease release it to
// the table they acquired it from.
type ConnectionPool struct {
	mu       sync.RWMutex
	settings poolSettings
	routes   map[string]*semaphore.Weighted
	total    *semaphore.Weighted

	// rt is the transport requests are sent through.
	rt atomic.Pointer[roundTripperBox]

	// custom is true when the transport was supplied by the caller and
	// must not be rebuilt.
	custom bool

	leased  atomic.Int64
	pending atomic.Int64

	metrics *metrics
}

type roundTripperBox struct {
	rt http.RoundTripper
}

// lease is a granted connection slot. Release is idempotent.
type lease struct {
	pool  *ConnectionPool
	route *semaphore.Weighted
	total *semaphore.Weighted
	host  string
	once  sync.Once
}

func (l *lease) Release() {
	l.once.Do(func() {
		l.total.Release(1)
		l.route.Release(1)
		l.pool.leased.Add(-1)
		l.pool.metrics.recordPoolLease(context.Background(), -1, l.host)
	})
}

// newConnectionPool creates a pool. A nil rt builds a pooled http.Transport.
func newConnectionPool(s poolSettings, rt http.RoundTripper, m *metrics) *ConnectionPool {
	p := &ConnectionPool{
		settings: s,
		routes:   make(map[string]*semaphore.Weighted),
		total:    semaphore.NewWeighted(int64(s.maxTotal)),
		custom:   rt != nil,
		metrics:  m,
	}
	if rt == nil {
		rt = buildTransport(s)
	}
	p.rt.Store(&roundTripperBox{rt: rt})
	return p
}

// buildTransport creates an http.Transport whose dials honour the per-call
// connect deadline carried in the request context. Direct TLS dials run the
// handshake under the same deadline; TLSHandshakeTimeout still bounds
// handshakes made through a proxy tunnel.
func buildTransport(s poolSettings) *http.Transport {
	dialer := &net.Dialer{
		KeepAlive: s.keepAlive,
	}

	withDeadline := func(ctx context.Context) (context.Context, context.CancelFunc) {
		if deadline, ok := connectDeadlineFrom(ctx); ok {
			return context.WithDeadline(ctx, deadline)
		}
		return ctx, func() {}
	}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			ctx, cancel := withDeadline(ctx)
			defer cancel()
			return dialer.DialContext(ctx, network, addr)
		},
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			ctx, cancel := withDeadline(ctx)
			defer cancel()
			if _, ok := connectDeadlineFrom(ctx); !ok && s.tlsHandshake > 0 {
				var cancelHandshake context.CancelFunc
				ctx, cancelHandshake = context.WithTimeout(ctx, s.tlsHandshake)
				defer cancelHandshake()
			}
			return dialTLS(ctx, dialer, s.tlsConfig, network, addr)
		},
		Proxy:               s.proxy,
		TLSClientConfig:     s.tlsConfig,
		TLSHandshakeTimeout: s.tlsHandshake,
		// Leases bound concurrency; the transport only keeps the idle ones.
		MaxIdleConns:        s.maxTotal,
		MaxIdleConnsPerHost: s.maxTotal,
		IdleConnTimeout:     s.idleTimeout,
		DisableKeepAlives:   s.disableKeepAlives,
		ForceAttemptHTTP2:   true,
	}
}

// dialTLS dials addr and completes the TLS handshake before ctx ends.
func dialTLS(ctx context.Context, dialer *net.Dialer, base *tls.Config, network, addr string) (net.Conn, error) {
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = addr
		}
		cfg.ServerName = host
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"h2", "http/1.1"}
	}

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return tc, nil
}

// RoundTripper returns the transport requests are currently sent through.
func (p *ConnectionPool) RoundTripper() http.RoundTripper {
	return p.rt.Load().rt
}

// acquire blocks until a slot for host is free or ctx ends.
func (p *ConnectionPool) acquire(ctx context.Context, host string) (*lease, error) {
	p.pending.Add(1)
	defer p.pending.Add(-1)

	start := time.Now()
	route, total := p.semaphoresFor(host)

	if err := route.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := total.Acquire(ctx, 1); err != nil {
		route.Release(1)
		return nil, err
	}

	p.leased.Add(1)
	p.metrics.recordPoolWait(ctx, time.Since(start), host)
	p.metrics.recordPoolLease(ctx, 1, host)

	return &lease{pool: p, route: route, total: total, host: host}, nil
}

func (p *ConnectionPool) semaphoresFor(host string) (*semaphore.Weighted, *semaphore.Weighted) {
	p.mu.RLock()
	sem, ok := p.routes[host]
	total := p.total
	p.mu.RUnlock()
	if ok {
		return sem, total
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if sem, ok = p.routes[host]; !ok {
		sem = semaphore.NewWeighted(int64(p.settings.maxPerRoute))
		p.routes[host] = sem
	}
	return sem, p.total
}

// SetMaxPerRoute changes the per-host limit for leases acquired from now on.
func (p *ConnectionPool) SetMaxPerRoute(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settings.maxPerRoute = n
	p.routes = make(map[string]*semaphore.Weighted)
}

// SetIdleTimeout changes how long idle connections are reused. The pooled
// transport is replaced; in-flight requests finish on the old one.
func (p *ConnectionPool) SetIdleTimeout(d time.Duration) {
	p.mu.Lock()
	p.settings.idleTimeout = d
	s := p.settings
	p.mu.Unlock()
	p.rebuild(s)
}

// SetTLSHandshakeTimeout changes the TLS handshake limit of the pooled transport.
func (p *ConnectionPool) SetTLSHandshakeTimeout(d time.Duration) {
	p.mu.Lock()
	p.settings.tlsHandshake = d
	s := p.settings
	p.mu.Unlock()
	p.rebuild(s)
}

func (p *ConnectionPool) rebuild(s poolSettings) {
	if p.custom {
		return
	}
	old := p.rt.Swap(&roundTripperBox{rt: buildTransport(s)})
	if t, ok := old.rt.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// Stats returns a snapshot of pool usage.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.RLock()
	s := p.settings
	routes := len(p.routes)
	p.mu.RUnlock()

	leased := int(p.leased.Load())
	available := s.maxTotal - leased
	if available < 0 {
		available = 0
	}

	return PoolStats{
		Leased:          leased,
		Pending:         int(p.pending.Load()),
		Available:       available,
		MaxPerRoute:     s.maxPerRoute,
		MaxTotal:        s.maxTotal,
		Routes:          routes,
		IdleConnTimeout: s.idleTimeout,
	}
}

// Close releases idle connections.
func (p *ConnectionPool) Close() {
	if ci, ok := p.RoundTripper().(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

// =============================================================================
// Connect deadline propagation
// =============================================================================

type connectDeadlineKey struct{}

// withConnectDeadline stores the per-call connect deadline so the dialer can
// apply it. The transport may dial on a context detached from the request's
// cancellation, but values are preserved.
func withConnectDeadline(ctx context.Context, deadline time.Time) context.Context {
	return context.WithValue(ctx, connectDeadlineKey{}, deadline)
}

func connectDeadlineFrom(ctx context.Context) (time.Time, bool) {
	d, ok := ctx.Value(connectDeadlineKey{}).(time.Time)
	return d, ok
}
