package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error type classifications for the error.type attribute.
const (
	ErrorTypeConnectTimeout    = "connect_timeout"
	ErrorTypeReadTimeout       = "read_timeout"
	ErrorTypeBudgetExceeded    = "budget_exceeded"
	ErrorTypePoolExhausted     = "pool_exhausted"
	ErrorTypeBreakerOpen       = "breaker_open"
	ErrorTypeRateLimited       = "rate_limited"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeUnknown           = "unknown"
)

// networkTrace holds timing data collected from httptrace.ClientTrace.
// Callbacks run on transport goroutines, so access is locked.
type networkTrace struct {
	mu sync.Mutex

	// Connection timing
	connectStart time.Time
	connectDone  time.Time

	// TLS timing
	tlsStart time.Time
	tlsDone  time.Time

	// Request/Response timing
	gotConnTime       time.Time
	wroteRequestTime  time.Time
	firstResponseTime time.Time

	// Connection info
	connReused  bool
	connRemote  string
	protocolVer string
}

// connected reports whether a connection was obtained for the request.
func (nt *networkTrace) connected() bool {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	return !nt.gotConnTime.IsZero()
}

// createClientTrace creates an httptrace.ClientTrace that populates nt and
// drives the read watchdog: it starts once the request is written and
// restarts when the first response byte arrives.
func createClientTrace(nt *networkTrace, wd *readWatchdog) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			nt.mu.Lock()
			defer nt.mu.Unlock()
			nt.gotConnTime = time.Now()
			nt.connReused = info.Reused
			if info.Conn != nil {
				if addr := info.Conn.RemoteAddr(); addr != nil {
					nt.connRemote = addr.String()
				}
			}
		},
		ConnectStart: func(_, _ string) {
			nt.mu.Lock()
			defer nt.mu.Unlock()
			nt.connectStart = time.Now()
		},
		ConnectDone: func(_, _ string, _ error) {
			nt.mu.Lock()
			defer nt.mu.Unlock()
			nt.connectDone = time.Now()
		},
		TLSHandshakeStart: func() {
			nt.mu.Lock()
			defer nt.mu.Unlock()
			nt.tlsStart = time.Now()
		},
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			nt.mu.Lock()
			defer nt.mu.Unlock()
			nt.tlsDone = time.Now()
			nt.protocolVer = state.NegotiatedProtocol
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			nt.mu.Lock()
			nt.wroteRequestTime = time.Now()
			nt.mu.Unlock()
			wd.arm()
		},
		GotFirstResponseByte: func() {
			nt.mu.Lock()
			nt.firstResponseTime = time.Now()
			nt.mu.Unlock()
			wd.arm()
		},
	}
}

// addTraceEvents adds span events for network timing.
func (nt *networkTrace) addTraceEvents(span trace.Span) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if !nt.connectStart.IsZero() && !nt.connectDone.IsZero() {
		span.AddEvent("connect.done", trace.WithTimestamp(nt.connectDone),
			trace.WithAttributes(
				attribute.Float64(
					"connect.duration_ms",
					float64(nt.connectDone.Sub(nt.connectStart).Milliseconds()),
				),
			))
	}

	if !nt.tlsStart.IsZero() && !nt.tlsDone.IsZero() {
		span.AddEvent("tls.done", trace.WithTimestamp(nt.tlsDone),
			trace.WithAttributes(
				attribute.Float64(
					"tls.duration_ms",
					float64(nt.tlsDone.Sub(nt.tlsStart).Milliseconds()),
				),
				attribute.String("tls.protocol", nt.protocolVer),
			))
	}

	if !nt.gotConnTime.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConnTime),
			trace.WithAttributes(
				attribute.Bool("connection.reused", nt.connReused),
				attribute.String("network.peer.address", nt.connRemote),
			))
	}

	if !nt.wroteRequestTime.IsZero() {
		span.AddEvent("wrote_request", trace.WithTimestamp(nt.wroteRequestTime))
	}

	if !nt.firstResponseTime.IsZero() {
		var ttfbMs float64
		if !nt.wroteRequestTime.IsZero() {
			ttfbMs = float64(nt.firstResponseTime.Sub(nt.wroteRequestTime).Milliseconds())
		}
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(nt.firstResponseTime),
			trace.WithAttributes(
				attribute.Float64("ttfb_ms", ttfbMs),
			))
	}
}

// recordTimingMetrics records network timing metrics.
func (nt *networkTrace) recordTimingMetrics(
	ctx context.Context,
	m *metrics,
	attrs []attribute.KeyValue,
) {
	if m == nil {
		return
	}

	nt.mu.Lock()
	defer nt.mu.Unlock()

	if !nt.connectStart.IsZero() && !nt.connectDone.IsZero() {
		m.recordConnectionDuration(ctx, nt.connectDone.Sub(nt.connectStart), attrs)
	}

	if !nt.wroteRequestTime.IsZero() && !nt.firstResponseTime.IsZero() {
		m.recordTTFB(ctx, nt.firstResponseTime.Sub(nt.wroteRequestTime), attrs)
	}
}

// classifyError returns an error.type classification for the given error.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		switch te.Phase {
		case PhaseConnect:
			return ErrorTypeConnectTimeout
		case PhaseRead:
			return ErrorTypeReadTimeout
		default:
			return ErrorTypeBudgetExceeded
		}
	}

	var se *StatusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.StatusCode)
	}

	switch {
	case errors.Is(err, ErrPoolExhausted):
		return ErrorTypePoolExhausted
	case errors.Is(err, ErrBreakerOpen):
		return ErrorTypeBreakerOpen
	case errors.Is(err, ErrRateLimited):
		return ErrorTypeRateLimited
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorTypeDNSError
	}

	var tlsRecordErr *tls.RecordHeaderError
	if errors.As(err, &tlsRecordErr) {
		return ErrorTypeTLSError
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ErrorTypeTLSError
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrorTypeConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return ErrorTypeConnectionReset
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorTypeEOF
	}

	// Wrapped errors that lost their type.
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused"):
		return ErrorTypeConnectionRefused
	case strings.Contains(errStr, "connection reset"):
		return ErrorTypeConnectionReset
	case strings.Contains(errStr, "no such host"):
		return ErrorTypeDNSError
	case strings.Contains(errStr, "x509") || strings.Contains(errStr, "certificate"):
		return ErrorTypeTLSError
	}

	return ErrorTypeUnknown
}

// isTimeout reports whether a raw transport error is a network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// setSpanError records an error on the span with proper status and attributes.
func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}
