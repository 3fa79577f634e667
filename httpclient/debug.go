package httpclient

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maskedHeaders are never written to logs in clear text.
var maskedHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
}

// maskHeaderValue keeps the auth scheme and hides the credential.
func maskHeaderValue(name, value string) string {
	if !maskedHeaders[http.CanonicalHeaderKey(name)] {
		return value
	}
	if scheme, _, ok := strings.Cut(value, " "); ok {
		return scheme + " ***"
	}
	return "***"
}

// generateCurlCommand creates a cURL command equivalent for the given request.
// Credentials are masked.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' \
//	  -H 'Authorization: Basic ***' \
//	  -H 'Content-Type: application/json; charset=UTF-8' \
//	  -d '{"name":"John"}'
func generateCurlCommand(req *http.Request, body []byte) string {
	var parts []string

	parts = append(parts, "curl")

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}

	parts = append(parts, fmt.Sprintf("'%s'", req.URL.String()))

	// Headers (sorted for consistent output)
	headerKeys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	for _, k := range headerKeys {
		for _, v := range req.Header[k] {
			parts = append(parts, "-H", fmt.Sprintf("'%s: %s'", k, maskHeaderValue(k, v)))
		}
	}

	if len(body) > 0 {
		bodyStr := strings.ReplaceAll(string(body), "'", "'\\''")
		parts = append(parts, "-d", fmt.Sprintf("'%s'", bodyStr))
	}

	return strings.Join(parts, " ")
}

// callLogger writes the lifecycle events of one call.
type callLogger struct {
	logger zerolog.Logger
	debug  bool
}

func (l callLogger) with(c *Call) zerolog.Logger {
	return l.logger.With().
		Str("type", "http_call").
		Str("call_id", c.id).
		Str("endpoint", c.endpointID).
		Str("group", c.groupID).
		Str("method", string(c.method)).
		Str("url", c.url).
		Logger()
}

// started logs a call leaving the caller, with the request detail in debug mode.
func (l callLogger) started(c *Call, req *http.Request) {
	logger := l.with(c)
	evt := logger.Debug().
		Dur("connect_timeout", c.connectTimeout).
		Dur("read_timeout", c.readTimeout).
		Dur("budget", c.Budget())

	if l.debug && req != nil {
		headers := zerolog.Dict()
		for name := range req.Header {
			headers.Str(name, maskHeaderValue(name, req.Header.Get(name)))
		}
		evt = evt.Dict("headers", headers).
			Str("curl", generateCurlCommand(req, c.body))
	}

	evt.Msg("HTTP call started")
}

// received logs a response before status classification.
func (l callLogger) received(c *Call, resp *Response, pool PoolStats) {
	logger := l.with(c)
	evt := logger.Debug().
		Int("status", resp.StatusCode).
		Str("reason", resp.StatusReason).
		Int("leased", pool.Leased).
		Int("available", pool.Available).
		Int("pending", pool.Pending)

	if l.debug {
		evt = evt.Str("body", resp.RawBody)
	}

	evt.Msg("HTTP response received")
}

// finished logs the terminal state of a call.
func (l callLogger) finished(c *Call, state State, err error, duration time.Duration) {
	logger := l.with(c)

	var evt *zerolog.Event
	switch state {
	case StateSucceeded:
		evt = logger.Info()
	case StateShortCircuited:
		evt = logger.Warn()
	default:
		evt = logger.Error()
	}

	evt = evt.Str("outcome", state.String()).Dur("duration", duration)
	if err != nil {
		evt = evt.Err(err).Str("error_type", classifyError(err))
	}
	evt.Msg("HTTP call finished")
}

// fallback logs a fallback invocation.
func (l callLogger) fallback(c *Call, reason, err error) {
	logger := l.with(c)
	if err != nil {
		logger.Error().AnErr("reason", reason).Err(err).Msg("HTTP call fallback failed")
		return
	}
	logger.Warn().AnErr("reason", reason).Msg("HTTP call served by fallback")
}

// retrying logs a scheduled retry.
func (l callLogger) retrying(c *Call, attempt int, err error, next time.Duration) {
	logger := l.with(c)
	logger.Warn().
		Int("attempt", attempt).
		Dur("next_in", next).
		Err(err).
		Msg("HTTP call retrying")
}
