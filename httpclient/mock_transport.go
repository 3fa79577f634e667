package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"os"
	"regexp"
	"sync"
	"time"
)

// MockTransport is a scriptable http.RoundTripper for tests.
//
// It plays the part of a remote server behind a real transport: it honours
// the per-call connect deadline, fires the httptrace events a connection
// would, and respects request cancellation while "waiting" for the server.
// That makes connect and read timeouts reproducible without sockets.
//
// Example:
//
//	mt := httpclient.NewMockTransport().
//	    StubJSON(http.StatusOK, `{"id":"42"}`).
//	    WithLatency(2 * time.Second)
//	client, _ := httpclient.New("https://ius.test", httpclient.WithTransport(mt))
type MockTransport struct {
	mu       sync.RWMutex
	stubs    []stub
	fallback *stub
	requests []*http.Request
	bodies   [][]byte
	hook     func(*http.Request)

	connectDelay time.Duration
	latency      time.Duration
}

type stub struct {
	matcher    func(*http.Request) bool
	status     int
	header     http.Header
	body       string
	err        error
	chunkDelay time.Duration
}

// NewMockTransport creates an empty MockTransport. Unmatched requests fail
// with a transport error.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse answers every unmatched request with status and body and no
// Content-Type.
func (m *MockTransport) StubResponse(status int, body string) *MockTransport {
	return m.setFallback(stub{status: status, header: make(http.Header), body: body})
}

// StubJSON answers every unmatched request with status and a JSON body.
func (m *MockTransport) StubJSON(status int, body string) *MockTransport {
	return m.setFallback(stub{status: status, header: jsonHeader(), body: body})
}

// StubError fails every unmatched request with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	return m.setFallback(stub{err: err})
}

// StubSlowBody answers every unmatched request with status, then streams body
// one byte at a time, waiting chunkDelay before each byte.
func (m *MockTransport) StubSlowBody(status int, body string, chunkDelay time.Duration) *MockTransport {
	return m.setFallback(stub{status: status, header: jsonHeader(), body: body, chunkDelay: chunkDelay})
}

// StubPath answers requests for path with status and a JSON body.
func (m *MockTransport) StubPath(path string, status int, body string) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool {
		return req.URL.Path == path
	}, status, body)
}

// StubPathRegex answers requests whose path matches pattern.
func (m *MockTransport) StubPathRegex(pattern string, status int, body string) *MockTransport {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *http.Request) bool {
		return re.MatchString(req.URL.Path)
	}, status, body)
}

// StubFunc answers requests matching the predicate with status and a JSON
// body. The first matching stub wins.
func (m *MockTransport) StubFunc(matcher func(*http.Request) bool, status int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{matcher: matcher, status: status, header: jsonHeader(), body: body})
	return m
}

// StubFuncError fails requests matching the predicate with err.
func (m *MockTransport) StubFuncError(matcher func(*http.Request) bool, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{matcher: matcher, err: err})
	return m
}

// WithConnectDelay makes every request spend d establishing a connection.
// A request whose connect deadline comes first fails with a dial timeout.
func (m *MockTransport) WithConnectDelay(d time.Duration) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectDelay = d
	return m
}

// WithLatency makes the server wait d after the request is written before
// sending the response head.
func (m *MockTransport) WithLatency(d time.Duration) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
	return m
}

// OnRequest sets a hook called with each request before it is answered.
func (m *MockTransport) OnRequest(fn func(*http.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
	return m
}

func (m *MockTransport) setFallback(s stub) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &s
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)
	hook := m.hook
	connectDelay, latency := m.connectDelay, m.latency
	s := m.match(req)
	m.mu.Unlock()

	ctx := req.Context()
	ct := httptrace.ContextClientTrace(ctx)

	if err := m.connect(ctx, ct, req.URL.Host, connectDelay); err != nil {
		return nil, err
	}

	if ct != nil && ct.WroteRequest != nil {
		ct.WroteRequest(httptrace.WroteRequestInfo{})
	}
	if hook != nil {
		hook(req)
	}

	if err := sleepCtx(ctx, latency); err != nil {
		return nil, err
	}

	if s == nil {
		return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
	}
	if s.err != nil {
		return nil, s.err
	}

	if ct != nil && ct.GotFirstResponseByte != nil {
		ct.GotFirstResponseByte()
	}

	var rc io.ReadCloser = io.NopCloser(bytes.NewBufferString(s.body))
	if s.chunkDelay > 0 {
		rc = &slowBody{ctx: ctx, data: []byte(s.body), delay: s.chunkDelay}
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.status, http.StatusText(s.status)),
		StatusCode:    s.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        s.header.Clone(),
		Body:          rc,
		ContentLength: int64(len(s.body)),
		Request:       req,
	}, nil
}

// match returns the first stub for req. Callers hold m.mu.
func (m *MockTransport) match(req *http.Request) *stub {
	for i := range m.stubs {
		if m.stubs[i].matcher(req) {
			return &m.stubs[i]
		}
	}
	return m.fallback
}

// connect simulates dialing under the connect deadline the client put on ctx.
func (m *MockTransport) connect(ctx context.Context, ct *httptrace.ClientTrace, addr string, delay time.Duration) error {
	if ct != nil && ct.ConnectStart != nil {
		ct.ConnectStart("tcp", addr)
	}

	wait := delay
	deadline, hasDeadline := connectDeadlineFrom(ctx)
	timedOut := hasDeadline && time.Now().Add(delay).After(deadline)
	if timedOut {
		wait = time.Until(deadline)
	}
	if err := sleepCtx(ctx, wait); err != nil {
		return err
	}
	if timedOut {
		err := &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded}
		if ct != nil && ct.ConnectDone != nil {
			ct.ConnectDone("tcp", addr, err)
		}
		return err
	}

	if ct != nil && ct.ConnectDone != nil {
		ct.ConnectDone("tcp", addr, nil)
	}
	if ct != nil && ct.GotConn != nil {
		ct.GotConn(httptrace.GotConnInfo{})
	}
	return nil
}

// Requests returns all requests made through this transport.
func (m *MockTransport) Requests() []*http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*http.Request{}, m.requests...)
}

// RequestCount returns the number of requests made.
func (m *MockTransport) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockTransport) LastRequest() *http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// LastBody returns the body of the most recent request.
func (m *MockTransport) LastBody() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bodies) == 0 {
		return ""
	}
	return string(m.bodies[len(m.bodies)-1])
}

// Reset clears recorded requests, stubs and delays.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.bodies = nil
	m.stubs = nil
	m.fallback = nil
	m.hook = nil
	m.connectDelay = 0
	m.latency = 0
}

func jsonHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return h
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// slowBody yields one byte per delay and stops when ctx is done.
type slowBody struct {
	ctx   context.Context
	data  []byte
	delay time.Duration
}

func (b *slowBody) Read(p []byte) (int, error) {
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := sleepCtx(b.ctx, b.delay); err != nil {
		return 0, err
	}
	p[0] = b.data[0]
	b.data = b.data[1:]
	return 1, nil
}

func (b *slowBody) Close() error { return nil }
