package httpclient

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Client's pool and breaker state as Prometheus metrics.
// Values are read at scrape time.
//
// Example:
//
//	prometheus.MustRegister(httpclient.NewCollector(client))
//	mux.Handle("/metrics", promhttp.Handler())
type Collector struct {
	client *Client

	leased       *prometheus.Desc
	pending      *prometheus.Desc
	available    *prometheus.Desc
	maxPerRoute  *prometheus.Desc
	maxTotal     *prometheus.Desc
	breakerState *prometheus.Desc
	rateTokens   *prometheus.Desc
}

// NewCollector creates a Collector for client.
func NewCollector(client *Client) *Collector {
	labels := prometheus.Labels{"client": client.BreakerName()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("callguard_"+name, help, nil, labels)
	}

	return &Collector{
		client:       client,
		leased:       desc("pool_leased_connections", "Connection slots currently leased by calls."),
		pending:      desc("pool_pending_leases", "Calls waiting for a connection slot."),
		available:    desc("pool_available_connections", "Connection slots not leased."),
		maxPerRoute:  desc("pool_max_per_route", "Current per-host connection limit."),
		maxTotal:     desc("pool_max_total", "Connection limit across all hosts."),
		breakerState: desc("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)."),
		rateTokens:   desc("rate_limiter_tokens", "Tokens available in the client rate limiter."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.leased
	ch <- c.pending
	ch <- c.available
	ch <- c.maxPerRoute
	ch <- c.maxTotal
	ch <- c.breakerState
	ch <- c.rateTokens
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.client.PoolStats()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	gauge(c.leased, float64(stats.Leased))
	gauge(c.pending, float64(stats.Pending))
	gauge(c.available, float64(stats.Available))
	gauge(c.maxPerRoute, float64(stats.MaxPerRoute))
	gauge(c.maxTotal, float64(stats.MaxTotal))
	gauge(c.breakerState, float64(c.client.BreakerState()))
	gauge(c.rateTokens, c.client.RateLimiterStats().TokensAvailable)
}
