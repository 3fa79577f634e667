package httpclient

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Every error returned by this package matches exactly one
// of these with errors.Is; the typed errors below carry the details.
var (
	// ErrConfiguration is returned for invalid client, auth or pool settings.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrAuthContract is returned when an auth strategy is called with
	// parameters that violate its contract, e.g. an offline ticket without a ticket.
	ErrAuthContract = errors.New("auth contract violated")

	// ErrInvalidRequest is returned when a request is rejected before any I/O.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyExecuted is returned when a builder or call is used twice.
	ErrAlreadyExecuted = errors.New("request already executed")

	// ErrPoolExhausted is returned when no connection lease could be obtained
	// within the connect timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrTimeout is returned when the connect, read or total budget elapsed.
	ErrTimeout = errors.New("timeout")

	// ErrTransport is returned for network failures other than timeouts.
	ErrTransport = errors.New("transport failure")

	// ErrCallFailed is returned when the remote status reached the failure threshold.
	ErrCallFailed = errors.New("call failed")

	// ErrBreakerOpen is returned when the circuit breaker rejected the call.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrContentTypeMismatch is returned when a body is decoded as JSON but the
	// response declared a different content type.
	ErrContentTypeMismatch = errors.New("content type mismatch")

	// ErrDecode is returned when a response body is not valid JSON for the target.
	ErrDecode = errors.New("decode failed")

	// ErrNilFallbackResponse is the fallback error when a fallback returns
	// neither a response nor an error.
	ErrNilFallbackResponse = errors.New("fallback returned no response")
)

// Status errors produced by Response.RaiseForStatus.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrHTTP         = errors.New("http error")
)

// TimeoutPhase names the deadline that elapsed.
type TimeoutPhase string

const (
	PhaseConnect TimeoutPhase = "connect"
	PhaseRead    TimeoutPhase = "read"
	PhaseBudget  TimeoutPhase = "budget"
)

// TimeoutError reports which deadline elapsed during a call.
type TimeoutError struct {
	Phase   TimeoutPhase
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s timeout after %s", e.Phase, e.Timeout)
	}
	return fmt.Sprintf("%s timeout after %s: %v", e.Phase, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTimeout}
	}
	return []error{ErrTimeout, e.Err}
}

// PoolExhaustedError is returned when the per-route or total connection limit
// could not grant a lease before the connect deadline.
type PoolExhaustedError struct {
	Route       string
	MaxPerRoute int
	Wait        time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted for %s: no lease within %s (max per route %d)",
		e.Route, e.Wait, e.MaxPerRoute)
}

func (e *PoolExhaustedError) Unwrap() error { return ErrPoolExhausted }

// TransportError wraps a network failure that was not a timeout.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// StatusError is returned when the remote status code is at or above the
// request's failure threshold.
type StatusError struct {
	Method     string
	StatusCode int
	Reason     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to %s the remote server: status=%d",
		strings.ToLower(e.Method), e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrCallFailed }

// BreakerOpenError is returned when the circuit breaker short-circuited a call.
type BreakerOpenError struct {
	Name string
	Err  error
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q rejected call: %v", e.Name, e.Err)
}

func (e *BreakerOpenError) Unwrap() []error { return []error{ErrBreakerOpen, e.Err} }

// FallbackError is returned when the fallback itself failed. It matches both
// the fallback's error and the reason the fallback was invoked.
type FallbackError struct {
	Reason error
	Err    error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("fallback failed: %v (reason: %v)", e.Err, e.Reason)
}

func (e *FallbackError) Unwrap() []error { return []error{e.Err, e.Reason} }

// ContentTypeError is returned when JSON decoding is attempted on a response
// that declared a non-JSON content type.
type ContentTypeError struct {
	ContentType string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("response content type %q is not JSON", e.ContentType)
}

func (e *ContentTypeError) Unwrap() error { return ErrContentTypeMismatch }

// DecodeError wraps a JSON decoding failure.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode response body: " + e.Err.Error() }

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// HTTPError is returned by Response.RaiseForStatus for non-2xx responses.
// Kind is one of ErrBadRequest, ErrUnauthorized, ErrForbidden, ErrNotFound,
// ErrConflict or ErrHTTP. Every HTTPError also matches ErrHTTP.
type HTTPError struct {
	Kind       error
	StatusCode int
	Reason     string
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("server returned http %d-%s", e.StatusCode, e.Reason)
	if errors.Is(e.Kind, ErrNotFound) {
		msg += ". check the request URL path"
	}
	return msg
}

func (e *HTTPError) Unwrap() []error {
	if e.Kind == nil || e.Kind == ErrHTTP {
		return []error{ErrHTTP}
	}
	return []error{e.Kind, ErrHTTP}
}

// callerCanceled marks an attempt that stopped because the caller's context
// ended. The breaker does not count it against the remote.
type callerCanceled struct {
	err error
}

func (e *callerCanceled) Error() string { return e.err.Error() }

func (e *callerCanceled) Unwrap() error { return e.err }
