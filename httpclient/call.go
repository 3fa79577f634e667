package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HeaderRequestSentAt carries the local time the call was sent.
const HeaderRequestSentAt = "X-Request-Sent-At"

// sentAtLayout is the X-Request-Sent-At timestamp format.
const sentAtLayout = "2006-01-02 15:04:05.000"

// State is the lifecycle state of a Call.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateTimedOut
	StateShortCircuited
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateShortCircuited:
		return "short_circuited"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// stateOf classifies the error of a finished call.
func stateOf(err error) State {
	switch {
	case err == nil:
		return StateSucceeded
	case errors.Is(err, ErrTimeout):
		return StateTimedOut
	case errors.Is(err, ErrBreakerOpen):
		return StateShortCircuited
	default:
		return StateFailed
	}
}

// Fallback produces a substitute response when a call fails, times out or is
// short-circuited. reason is the classified error. Returning (nil, nil)
// fails the call with a *FallbackError wrapping ErrNilFallbackResponse.
type Fallback func(reason error) (*Response, error)

// Call is a single resilient execution of a built request.
//
// A Call runs inside the client's circuit breaker and is bounded by its
// Budget. It can be executed once; it is safe to read its State from other
// goroutines while it runs.
type Call struct {
	client *Client
	id     string

	endpointID string
	groupID    string
	method     Method
	url        string
	host       string

	headers     map[string]string
	body        []byte
	contentType string

	failureThreshold int
	fallback         Fallback
	retry            RetryConfig
	endpointGate     *rateGate

	connectTimeout time.Duration
	readTimeout    time.Duration

	state atomic.Int32
}

// ID returns the call identifier used in log events.
func (c *Call) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Call) State() State { return State(c.state.Load()) }

// Budget is the total time one attempt may take:
// connect timeout + read timeout + BudgetBuffer.
func (c *Call) Budget() time.Duration {
	return budget(c.connectTimeout, c.readTimeout)
}

// Execute runs the call and returns the response or a classified error.
//
// Errors:
//   - ErrAlreadyExecuted: Execute was called before
//   - *BreakerOpenError: the breaker rejected the call, no I/O was done
//   - *PoolExhaustedError: no connection lease within the connect timeout
//   - *TimeoutError: the connect, read or budget deadline elapsed
//   - *TransportError: any other network failure
//   - *StatusError: the status code reached the failure threshold
//   - *FallbackError: the fallback was invoked and failed
//
// With a fallback set, every failure except caller cancellation is replaced
// by the fallback's result. The State still reports the original outcome.
func (c *Call) Execute(ctx context.Context) (*Response, error) {
	if !c.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		return nil, ErrAlreadyExecuted
	}

	cfg := c.client.cfg
	start := time.Now()

	ctx, span := cfg.Tracer.Start(ctx, "HTTP "+c.method.wire(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(c.spanAttributes()...),
	)
	defer span.End()

	attrs := c.metricAttributes()
	cfg.Metrics.recordActiveRequestStart(ctx, attrs)
	defer cfg.Metrics.recordActiveRequestEnd(ctx, attrs)
	if len(c.body) > 0 {
		cfg.Metrics.recordRequestBodySize(ctx, int64(len(c.body)), attrs)
	}

	resp, err := c.run(ctx)

	state := stateOf(err)
	c.state.Store(int32(state))
	duration := time.Since(start)

	cfg.Metrics.recordOutcome(ctx, state, attrs)
	cfg.Metrics.recordRequestDuration(ctx, duration, attrs)
	span.SetAttributes(attribute.String("call.outcome", state.String()))

	if err == nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		cfg.Metrics.recordResponseBodySize(ctx, int64(len(resp.RawBody)), attrs)
		c.client.log.finished(c, state, nil, duration)
		return resp, nil
	}

	errorType := classifyError(err)
	setSpanError(span, err, errorType)
	cfg.Metrics.recordError(ctx, errorType, attrs)
	c.client.log.finished(c, state, err, duration)

	var cc *callerCanceled
	if errors.As(err, &cc) {
		return nil, cc.err
	}

	if c.fallback == nil {
		return nil, err
	}

	fb, fbErr := c.fallback(err)
	if fbErr == nil && fb == nil {
		fbErr = ErrNilFallbackResponse
	}
	cfg.Metrics.recordFallback(ctx, fbErr == nil, attrs)
	c.client.log.fallback(c, err, fbErr)
	if fbErr != nil {
		return nil, &FallbackError{Reason: err, Err: fbErr}
	}
	span.AddEvent("fallback")
	span.SetStatus(codes.Ok, "served by fallback")
	return fb, nil
}

// run executes the attempts, retrying when configured.
func (c *Call) run(ctx context.Context) (*Response, error) {
	if !c.retry.IsEnabled() || !c.method.idempotent() {
		return c.attempt(ctx)
	}

	cfg := c.client.cfg
	attrs := c.metricAttributes()
	attempt := 0

	resp, err := backoff.Retry(ctx, func() (*Response, error) {
		resp, err := c.attempt(ctx)
		if err != nil && !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}, retryOptions(c.retry, func(err error, next time.Duration) {
		attempt++
		cfg.Metrics.recordRetryAttempt(ctx, attrs, attempt)
		c.client.log.retrying(c, attempt, err, next)
		trace.SpanFromContext(ctx).AddEvent("http.retry", trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.Int64("retry.delay_ms", next.Milliseconds()),
		))
	})...)

	// Retry returns the wrapper as is when the last allowed attempt was permanent.
	var pe *backoff.PermanentError
	if errors.As(err, &pe) {
		err = pe.Unwrap()
	}

	if err != nil && attempt > 0 && isRetryable(err) {
		cfg.Metrics.recordRetryExhausted(ctx, attrs)
	}
	if err != nil && ctx.Err() != nil {
		// The caller gave up, possibly while waiting between attempts.
		var cc *callerCanceled
		if !errors.As(err, &cc) {
			err = &callerCanceled{err: ctx.Err()}
		}
	}
	return resp, err
}

// attempt runs one breaker-guarded round trip.
func (c *Call) attempt(ctx context.Context) (*Response, error) {
	connectDeadline := time.Now().Add(c.connectTimeout)

	if err := c.client.gate.take(ctx, connectDeadline); err != nil {
		return nil, err
	}
	if err := c.endpointGate.take(ctx, connectDeadline); err != nil {
		return nil, err
	}

	cfg := c.client.cfg
	name := c.client.breakerName

	out, err := c.client.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, connectDeadline)
	})
	if err != nil {
		if isBreakerRejection(err) {
			cfg.Metrics.recordBreakerRequest(ctx, name, "rejected")
			return nil, &BreakerOpenError{Name: name, Err: err}
		}
		cfg.Metrics.recordBreakerRequest(ctx, name, "failure")
		return nil, err
	}
	cfg.Metrics.recordBreakerRequest(ctx, name, "success")

	resp, ok := out.(*Response)
	if !ok || resp == nil {
		return nil, &TransportError{Method: string(c.method), URL: c.url,
			Err: errors.New("circuit breaker returned unknown response type")}
	}
	return resp, nil
}

// roundTrip leases a connection slot, sends the request and reads the body
// under the connect, read and budget deadlines.
func (c *Call) roundTrip(callerCtx context.Context, connectDeadline time.Time) (*Response, error) {
	cfg := c.client.cfg

	budgetCtx, cancelBudget := context.WithTimeoutCause(callerCtx, c.Budget(), errBudgetExceeded)
	defer cancelBudget()

	leaseCtx, cancelLease := context.WithDeadline(budgetCtx, connectDeadline)
	l, err := c.client.pool.acquire(leaseCtx, c.host)
	cancelLease()
	if err != nil {
		if ctxErr := callerCtx.Err(); ctxErr != nil {
			return nil, &callerCanceled{err: ctxErr}
		}
		return nil, &PoolExhaustedError{
			Route:       c.host,
			MaxPerRoute: c.client.pool.Stats().MaxPerRoute,
			Wait:        c.connectTimeout,
		}
	}
	defer l.Release()

	attemptCtx, cancelAttempt := context.WithCancelCause(budgetCtx)
	defer cancelAttempt(nil)

	watchdog := newReadWatchdog(c.readTimeout, func() { cancelAttempt(errReadTimeout) })
	defer watchdog.stop()

	nt := &networkTrace{}
	reqCtx := httptrace.WithClientTrace(
		withConnectDeadline(attemptCtx, connectDeadline),
		createClientTrace(nt, watchdog),
	)

	req, err := c.newHTTPRequest(reqCtx)
	if err != nil {
		return nil, &TransportError{Method: string(c.method), URL: c.url, Err: err}
	}

	c.client.log.started(c, req)

	span := trace.SpanFromContext(callerCtx)
	httpResp, err := c.client.pool.RoundTripper().RoundTrip(req) //nolint:bodyclose
	if err != nil {
		nt.addTraceEvents(span)
		return nil, c.classify(callerCtx, attemptCtx, err, nt)
	}
	defer httpResp.Body.Close()

	// Transports without httptrace support start the read timer here.
	watchdog.arm()
	body, err := io.ReadAll(&watchedReader{r: httpResp.Body, w: watchdog})
	watchdog.stop()

	nt.addTraceEvents(span)
	nt.recordTimingMetrics(callerCtx, cfg.Metrics, c.metricAttributes())

	if err != nil {
		return nil, c.classify(callerCtx, attemptCtx, err, nt)
	}

	resp := newResponse(httpResp, body)
	c.client.log.received(c, resp, c.client.pool.Stats())

	if resp.StatusCode >= c.failureThreshold {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		return nil, &StatusError{
			Method:     c.method.wire(),
			StatusCode: resp.StatusCode,
			Reason:     resp.StatusReason,
			Body:       resp.RawBody,
		}
	}

	return resp, nil
}

// classify maps a raw transport error to the call error taxonomy.
func (c *Call) classify(callerCtx, attemptCtx context.Context, err error, nt *networkTrace) error {
	if ctxErr := callerCtx.Err(); ctxErr != nil {
		return &callerCanceled{err: ctxErr}
	}

	switch cause := context.Cause(attemptCtx); {
	case errors.Is(cause, errReadTimeout):
		return &TimeoutError{Phase: PhaseRead, Timeout: c.readTimeout, Err: unwrapURLError(err)}
	case errors.Is(cause, errBudgetExceeded):
		return &TimeoutError{Phase: PhaseBudget, Timeout: c.Budget(), Err: unwrapURLError(err)}
	}

	if isTimeout(err) {
		if !nt.connected() {
			return &TimeoutError{Phase: PhaseConnect, Timeout: c.connectTimeout, Err: unwrapURLError(err)}
		}
		return &TimeoutError{Phase: PhaseRead, Timeout: c.readTimeout, Err: unwrapURLError(err)}
	}

	return &TransportError{Method: c.method.wire(), URL: c.url, Err: unwrapURLError(err)}
}

// unwrapURLError strips the *url.Error added by the transport; the call
// error already carries method and URL.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

// newHTTPRequest builds the wire request.
//
// Header precedence, lowest first: automatic headers (Accept,
// X-Request-Sent-At, Content-Type), then builder headers.
func (c *Call) newHTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(c.body) > 0 {
		body = bytes.NewReader(c.body)
	}

	req, err := http.NewRequestWithContext(ctx, c.method.wire(), c.url, body)
	if err != nil {
		return nil, err
	}

	if c.method != MethodFormPost {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set(HeaderRequestSentAt, time.Now().Format(sentAtLayout))
	if c.contentType != "" {
		req.Header.Set("Content-Type", c.contentType)
	}
	for name, value := range c.headers {
		req.Header.Set(name, value)
	}

	c.client.cfg.Propagators.Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

func (c *Call) spanAttributes() []attribute.KeyValue {
	attrs := c.client.cfg.baseAttributes()
	return append(attrs,
		attribute.String("http.request.method", c.method.wire()),
		attribute.String("url.full", c.url),
		attribute.String("server.address", c.host),
		attribute.String("call.endpoint", c.endpointID),
		attribute.String("call.group", c.groupID),
		attribute.String("call.id", c.id),
	)
}

func (c *Call) metricAttributes() []attribute.KeyValue {
	attrs := c.client.cfg.baseAttributes()
	return append(attrs,
		attribute.String("http.request.method", c.method.wire()),
		attribute.String("server.address", c.host),
		attribute.String("call.endpoint", c.endpointID),
		attribute.String("call.group", c.groupID),
	)
}

func newCallID() string {
	return uuid.NewString()
}
