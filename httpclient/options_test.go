package httpclient

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestConfigPresets(t *testing.T) {
	tests := []struct {
		name            string
		cfg             Config
		wantConnect     time.Duration
		wantRead        time.Duration
		wantMaxPerRoute int
		wantMaxTotal    int
	}{
		{
			name:            "given default config, then platform defaults",
			cfg:             DefaultConfig(),
			wantConnect:     10 * time.Second,
			wantRead:        60 * time.Second,
			wantMaxPerRoute: 2,
			wantMaxTotal:    20,
		},
		{
			name:            "given high throughput config, then wide pool",
			cfg:             HighThroughputConfig(),
			wantConnect:     5 * time.Second,
			wantRead:        30 * time.Second,
			wantMaxPerRoute: 50,
			wantMaxTotal:    200,
		},
		{
			name:            "given low latency config, then short timeouts",
			cfg:             LowLatencyConfig(),
			wantConnect:     time.Second,
			wantRead:        5 * time.Second,
			wantMaxPerRoute: 20,
			wantMaxTotal:    100,
		},
		{
			name:            "given conservative config, then long timeouts",
			cfg:             ConservativeConfig(),
			wantConnect:     15 * time.Second,
			wantRead:        120 * time.Second,
			wantMaxPerRoute: 2,
			wantMaxTotal:    10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantConnect, tt.cfg.ConnectTimeout)
			assert.Equal(t, tt.wantRead, tt.cfg.ReadTimeout)
			assert.Equal(t, tt.wantMaxPerRoute, tt.cfg.MaxConnsPerRoute)
			assert.Equal(t, tt.wantMaxTotal, tt.cfg.MaxConnsTotal)
			assert.Equal(t, DefaultFailureThreshold, tt.cfg.FailureThreshold)
			assert.NoError(t, tt.cfg.Validate())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "given zero connect timeout, then invalid", mutate: func(c *Config) { c.ConnectTimeout = 0 }},
		{name: "given zero read timeout, then invalid", mutate: func(c *Config) { c.ReadTimeout = 0 }},
		{name: "given zero route limit, then invalid", mutate: func(c *Config) { c.MaxConnsPerRoute = 0 }},
		{name: "given zero total limit, then invalid", mutate: func(c *Config) { c.MaxConnsTotal = 0 }},
		{name: "given negative inactivity, then invalid", mutate: func(c *Config) { c.ValidateAfterInactivity = -1 }},
		{name: "given threshold below 100, then invalid", mutate: func(c *Config) { c.FailureThreshold = 42 }},
		{name: "given threshold above 999, then invalid", mutate: func(c *Config) { c.FailureThreshold = 1000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfiguration)
		})
	}
}

func TestNewConfig(t *testing.T) {
	t.Run("given no options, then defaults", func(t *testing.T) {
		cfg := newConfig()

		assert.Equal(t, DefaultConfig(), cfg.httpConfig)
		assert.Equal(t, AuthNone, cfg.Auth.Kind())
		assert.True(t, cfg.ProxyFromEnvironment)
		assert.NotNil(t, cfg.Tracer)
		assert.NotNil(t, cfg.Meter)
		assert.NotNil(t, cfg.Propagators)
		assert.NotNil(t, cfg.BreakerConfig.Classifier)
		assert.Nil(t, cfg.Transport)
	})

	t.Run("given options, then they are applied in order", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())
		proxy, _ := url.Parse("http://proxy.test:3128")
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		logger := zerolog.Nop().With().Str("svc", "x").Logger()

		cfg := newConfig(
			WithConfig(LowLatencyConfig()),
			WithReadTimeout(9*time.Second),
			WithServiceName("ius"),
			WithTracerProvider(tp),
			WithMeterProvider(noop.NewMeterProvider()),
			WithPropagators(propagation.TraceContext{}),
			WithTLSConfig(tlsCfg),
			WithProxyURL(proxy),
			WithLogger(logger),
			WithDebug(true),
		)

		assert.Equal(t, time.Second, cfg.httpConfig.ConnectTimeout)
		assert.Equal(t, 9*time.Second, cfg.httpConfig.ReadTimeout)
		assert.Equal(t, "ius", cfg.ServiceName)
		assert.Equal(t, tp, cfg.TracerProvider)
		assert.Equal(t, propagation.TraceContext{}, cfg.Propagators)
		assert.Same(t, tlsCfg, cfg.TLSConfig)
		assert.Equal(t, proxy, cfg.ProxyURL)
		assert.True(t, cfg.Debug)
		assert.NotNil(t, cfg.Metrics)
	})

	t.Run("given nil providers, then defaults are kept", func(t *testing.T) {
		cfg := newConfig(WithTracerProvider(nil), WithMeterProvider(nil), WithPropagators(nil))
		assert.NotNil(t, cfg.TracerProvider)
		assert.NotNil(t, cfg.MeterProvider)
		assert.NotNil(t, cfg.Propagators)
	})
}

func TestBaseAttributes(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want []attribute.KeyValue
	}{
		{
			name: "given no service name, then empty",
			want: []attribute.KeyValue{},
		},
		{
			name: "given service name, then client name attribute",
			opts: []Option{WithServiceName("ius")},
			want: []attribute.KeyValue{attribute.String("http.client.name", "ius")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newConfig(tt.opts...).baseAttributes())
		})
	}
}

func TestInternalConfig_Proxy(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.test:3128")
	req, _ := http.NewRequest(http.MethodGet, "https://api.test", nil)

	tests := []struct {
		name    string
		opts    []Option
		wantNil bool
		wantURL *url.URL
	}{
		{
			name:    "given explicit proxy, then it wins",
			opts:    []Option{WithProxyURL(proxyURL)},
			wantURL: proxyURL,
		},
		{
			name:    "given environment proxy disabled, then no proxy",
			opts:    []Option{WithProxyFromEnvironment(false)},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := newConfig(tt.opts...).proxy()
			if tt.wantNil {
				assert.Nil(t, fn)
				return
			}
			require.NotNil(t, fn)
			got, err := fn(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, got)
		})
	}

	t.Run("given defaults, then environment proxy is used", func(t *testing.T) {
		assert.NotNil(t, newConfig().proxy())
	})
}
