package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	contentTypeJSON = "application/json; charset=UTF-8"
	contentTypeForm = "application/x-www-form-urlencoded; charset=UTF-8"
)

// RequestBuilder accumulates the parts of one request.
//
// Create a RequestBuilder with Client.NewRequest. Setters return the builder
// for chaining; the first terminal call (Call, Get, Post, ...) consumes it and
// any later one returns ErrAlreadyExecuted. A builder is not safe for
// concurrent use.
//
//	resp, err := client.NewRequest("CreateUser", "Users", "/v1/companies/{0}/users", companyID).
//	    Header("Company-Id", companyID).
//	    Body(user).
//	    Fallback(cachedUser).
//	    Post(ctx)
type RequestBuilder struct {
	client     *Client
	endpointID string
	groupID    string
	rawURL     string

	headers     map[string]string
	queryParams url.Values

	body     []byte
	hasBody  bool
	form     url.Values
	hasForm  bool
	encodeErr error

	// authErr is a pending auth contract violation, cleared by
	// Client.WithAuthHeader / Client.WithAuthParams.
	authErr error

	failureThreshold int
	fallback         Fallback
	retry            RetryConfig
	rateLimit        RequestRateLimitConfig

	connectTimeout time.Duration
	readTimeout    time.Duration

	consumed bool
}

// URL returns the resolved request URL without query parameters.
func (rb *RequestBuilder) URL() string { return rb.rawURL }

// EndpointID returns the endpoint identifier the builder was created with.
func (rb *RequestBuilder) EndpointID() string { return rb.endpointID }

// GroupID returns the group identifier the builder was created with.
func (rb *RequestBuilder) GroupID() string { return rb.groupID }

// Header sets a single request header. Names are case-insensitive; a later
// value replaces an earlier one. Blank names or values are ignored.
//
// Example:
//
//	client.NewRequest("GetUser", "Users", "/users/{0}", id).
//	    Header("Company-Id", companyID).
//	    Get(ctx)
func (rb *RequestBuilder) Header(name, value string) *RequestBuilder {
	if isBlank(name) || isBlank(value) {
		return rb
	}
	rb.headers[http.CanonicalHeaderKey(name)] = value
	return rb
}

// Headers sets multiple request headers with the same rules as Header.
//
// Example:
//
//	headers, _ := httpclient.StandardHeaders(auth, companyID, "")
//	client.NewRequest("GetUser", "Users", "/users/{0}", id).
//	    Headers(headers).
//	    Get(ctx)
func (rb *RequestBuilder) Headers(headers map[string]string) *RequestBuilder {
	for name, value := range headers {
		rb.Header(name, value)
	}
	return rb
}

// Query adds a single query parameter.
func (rb *RequestBuilder) Query(key, value string) *RequestBuilder {
	if rb.queryParams == nil {
		rb.queryParams = make(url.Values)
	}
	rb.queryParams.Set(key, value)
	return rb
}

// Body sets a JSON body. Strings and byte slices are sent as-is; any other
// value is encoded as JSON. Sent with Content-Type application/json.
// An empty body is the same as no body.
//
// Example:
//
//	client.NewRequest("CreateUser", "Users", "/users").
//	    Body(map[string]string{"name": "ann"}).
//	    Post(ctx)
func (rb *RequestBuilder) Body(v any) *RequestBuilder {
	switch b := v.(type) {
	case string:
		rb.body = []byte(b)
	case []byte:
		rb.body = b
	case json.RawMessage:
		rb.body = b
	default:
		data, err := json.Marshal(v)
		if err != nil {
			rb.encodeErr = fmt.Errorf("%w: encode body: %w", ErrInvalidRequest, err)
			return rb
		}
		rb.body = data
	}
	rb.hasBody = len(rb.body) > 0
	return rb
}

// BodyString sets an already encoded JSON body.
func (rb *RequestBuilder) BodyString(s string) *RequestBuilder {
	return rb.Body(s)
}

// Form sets url-encoded form fields for a FORM_POST request.
func (rb *RequestBuilder) Form(fields map[string]string) *RequestBuilder {
	if rb.form == nil {
		rb.form = make(url.Values)
	}
	for k, v := range fields {
		rb.form.Set(k, v)
	}
	rb.hasForm = true
	return rb
}

// FailWhenStatusAtLeast sets the status code at or above which the call
// fails with a *StatusError and counts against the circuit breaker.
//
// Default: Config.FailureThreshold (500).
func (rb *RequestBuilder) FailWhenStatusAtLeast(code int) *RequestBuilder {
	rb.failureThreshold = code
	return rb
}

// Fallback sets a function that supplies the response when the call fails,
// times out or is short-circuited.
//
// Example:
//
//	client.NewRequest("GetPrefs", "Users", "/users/{0}/prefs", id).
//	    Fallback(func(reason error) (*httpclient.Response, error) {
//	        return cachedPrefs(id), nil
//	    }).
//	    Get(ctx)
func (rb *RequestBuilder) Fallback(fn Fallback) *RequestBuilder {
	rb.fallback = fn
	return rb
}

// Retry enables retries for idempotent methods. See RetryConfig.
func (rb *RequestBuilder) Retry(cfg RetryConfig) *RequestBuilder {
	rb.retry = cfg
	return rb
}

// RateLimit applies a rate limit shared by all requests with the same
// endpoint ID on this client.
func (rb *RequestBuilder) RateLimit(cfg RequestRateLimitConfig) *RequestBuilder {
	rb.rateLimit = cfg
	return rb
}

// Call validates the builder and creates the execution unit for method.
// The builder is consumed even when validation fails.
//
// Errors:
//   - ErrAlreadyExecuted: the builder was consumed before
//   - ErrAuthContract: the auth strategy needs per-call params
//   - ErrInvalidRequest: unknown method, a body on GET/HEAD/OPTIONS,
//     a JSON body on FORM_POST, form fields on any other method,
//     an unencodable body or an unparsable URL
//   - ErrConfiguration: an unknown retry backoff strategy
func (rb *RequestBuilder) Call(method Method) (*Call, error) {
	if rb.consumed {
		return nil, ErrAlreadyExecuted
	}
	rb.consumed = true

	if err := rb.validate(method); err != nil {
		return nil, err
	}

	u, err := url.Parse(rb.rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: malformed url %q", ErrInvalidRequest, rb.rawURL)
	}
	if len(rb.queryParams) > 0 {
		q := u.Query()
		for k, vs := range rb.queryParams {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	c := &Call{
		client:           rb.client,
		id:               newCallID(),
		endpointID:       rb.endpointID,
		groupID:          rb.groupID,
		method:           method,
		url:              u.String(),
		host:             u.Host,
		headers:          make(map[string]string, len(rb.headers)),
		failureThreshold: rb.failureThreshold,
		fallback:         rb.fallback,
		retry:            rb.retry,
		endpointGate:     rb.client.endpointGates.getOrCreate(rb.endpointID, rb.rateLimit),
		connectTimeout:   rb.connectTimeout,
		readTimeout:      rb.readTimeout,
	}
	for k, v := range rb.headers {
		c.headers[k] = v
	}

	switch {
	case rb.hasBody:
		c.body = rb.body
		c.contentType = contentTypeJSON
	case rb.hasForm:
		c.body = []byte(rb.form.Encode())
		c.contentType = contentTypeForm
	}

	return c, nil
}

func (rb *RequestBuilder) validate(method Method) error {
	switch {
	case !method.valid():
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, method)
	case rb.encodeErr != nil:
		return rb.encodeErr
	case rb.authErr != nil:
		return rb.authErr
	case rb.hasBody && !method.allowsBody():
		return fmt.Errorf("%w: %s requests must not carry a body", ErrInvalidRequest, method)
	case rb.hasBody && method == MethodFormPost:
		return fmt.Errorf("%w: FORM_POST takes form fields, not a JSON body", ErrInvalidRequest)
	case rb.hasForm && method != MethodFormPost:
		return fmt.Errorf("%w: form fields require FORM_POST", ErrInvalidRequest)
	}
	if rb.retry.IsEnabled() {
		if _, err := newBackOff(rb.retry); err != nil {
			return err
		}
	}
	return nil
}

// Do creates the call for method and executes it.
func (rb *RequestBuilder) Do(ctx context.Context, method Method) (*Response, error) {
	c, err := rb.Call(method)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx)
}

// Get executes the request as GET.
func (rb *RequestBuilder) Get(ctx context.Context) (*Response, error) {
	return rb.Do(ctx, MethodGet)
}

// Post executes the request as POST.
func (rb *RequestBuilder) Post(ctx context.Context) (*Response, error) {
	return rb.Do(ctx, MethodPost)
}

// Put executes the request as PUT.
func (rb *RequestBuilder) Put(ctx context.Context) (*Response, error) {
	return rb.Do(ctx, MethodPut)
}

// Patch executes the request as PATCH.
func (rb *RequestBuilder) Patch(ctx context.Context) (*Response, error) {
	return rb.Do(ctx, MethodPatch)
}

// Delete executes the request as DELETE.
func (rb *RequestBuilder) Delete(ctx context.Context) (*Response, error) {
	return rb.Do(ctx, MethodDelete)
}

// Head executes the request as HEAD.
func (rb *RequestBuilder) Head(ctx context.Context) (*Response, error) {
	return rb.Do(ctx, MethodHead)
}

// Options executes the request as OPTIONS.
func (rb *RequestBuilder) Options(ctx context.Context) (*Response, error) {
	return rb.Do(ctx, MethodOptions)
}

// FormPost executes the request as a url-encoded form POST. fields are
// merged into any set with Form.
func (rb *RequestBuilder) FormPost(ctx context.Context, fields map[string]string) (*Response, error) {
	if len(fields) > 0 || !rb.hasForm {
		rb.Form(fields)
	}
	return rb.Do(ctx, MethodFormPost)
}

// expandPath replaces {0}, {1}, ... with the path-escaped params.
func expandPath(template string, params []any) string {
	if len(params) == 0 {
		return template
	}
	pairs := make([]string, 0, 2*len(params))
	for i, p := range params {
		pairs = append(pairs, fmt.Sprintf("{%d}", i), url.PathEscape(fmt.Sprint(p)))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// joinURL appends path to base. A blank path yields base unchanged.
func joinURL(base, path string) string {
	if isBlank(path) {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// EncodeJSON encodes v as a JSON string, the form Body sends it in.
func EncodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode json: %w", ErrInvalidRequest, err)
	}
	return string(data), nil
}
