package httpclient

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

type NetError struct {
	Msg     string
	timeout bool
}

func (e *NetError) Error() string   { return e.Msg }
func (e *NetError) Timeout() bool   { return e.timeout }
func (e *NetError) Temporary() bool { return false }

// newTestClient builds a client on rt with short timeouts and no tracing
// or metrics exporters.
func newTestClient(t *testing.T, rt http.RoundTripper, opts ...Option) *Client {
	t.Helper()

	base := []Option{
		WithTransport(rt),
		WithServiceName("test-service"),
		WithMeterProvider(noop.NewMeterProvider()),
		WithConnectTimeout(500 * time.Millisecond),
		WithReadTimeout(time.Second),
	}
	c, err := New("https://api.test", append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func jsonResponse(status int, body string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// newServerClient builds a client on the pooled transport for srvURL.
func newServerClient(t *testing.T, srvURL string, opts ...Option) *Client {
	t.Helper()

	base := []Option{
		WithServiceName("test-service"),
		WithMeterProvider(noop.NewMeterProvider()),
		WithProxyFromEnvironment(false),
		WithConnectTimeout(500 * time.Millisecond),
		WithReadTimeout(time.Second),
	}
	c, err := New(srvURL, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}
