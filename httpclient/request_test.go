package httpclient

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	tests := []struct {
		name     string
		template string
		params   []any
		want     string
	}{
		{
			name:     "given no params, then template is unchanged",
			template: "/v1/users",
			want:     "/v1/users",
		},
		{
			name:     "given positional params, then each placeholder is replaced",
			template: "/v1/companies/{0}/users/{1}",
			params:   []any{"c-1", 42},
			want:     "/v1/companies/c-1/users/42",
		},
		{
			name:     "given repeated placeholder, then every occurrence is replaced",
			template: "/{0}/{0}",
			params:   []any{"a"},
			want:     "/a/a",
		},
		{
			name:     "given reserved characters, then param is path-escaped",
			template: "/files/{0}",
			params:   []any{"a b/c"},
			want:     "/files/a%20b%2Fc",
		},
		{
			name:     "given fewer params than placeholders, then the rest stay literal",
			template: "/{0}/{1}",
			params:   []any{"x"},
			want:     "/x/{1}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandPath(tt.template, tt.params))
		})
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{name: "given path with slash, then single separator", base: "https://a.test", path: "/v1", want: "https://a.test/v1"},
		{name: "given path without slash, then separator added", base: "https://a.test", path: "v1", want: "https://a.test/v1"},
		{name: "given base with trailing slash, then no double slash", base: "https://a.test/", path: "/v1", want: "https://a.test/v1"},
		{name: "given blank path, then base unchanged", base: "https://a.test/api", path: "", want: "https://a.test/api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, joinURL(tt.base, tt.path))
		})
	}
}

func TestRequestBuilder_Call_Validation(t *testing.T) {
	offline, err := NewOfflineTicket("app", "secret")
	require.NoError(t, err)

	tests := []struct {
		name    string
		opts    []Option
		build   func(*Client) *RequestBuilder
		method  Method
		wantErr error
	}{
		{
			name:    "given GET with a body, then invalid request",
			build:   func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x").Body(`{}`) },
			method:  MethodGet,
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "given HEAD with a body, then invalid request",
			build:   func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x").Body(`{}`) },
			method:  MethodHead,
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "given OPTIONS with a body, then invalid request",
			build:   func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x").Body(`{}`) },
			method:  MethodOptions,
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "given FORM_POST with a JSON body, then invalid request",
			build:   func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x").Body(`{}`) },
			method:  MethodFormPost,
			wantErr: ErrInvalidRequest,
		},
		{
			name: "given form fields on POST, then invalid request",
			build: func(c *Client) *RequestBuilder {
				return c.NewRequest("E", "G", "/x").Form(map[string]string{"a": "b"})
			},
			method:  MethodPost,
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "given unknown method, then invalid request",
			build:   func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x") },
			method:  Method("TRACE"),
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "given unencodable body, then invalid request",
			build:   func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x").Body(make(chan int)) },
			method:  MethodPost,
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "given offline ticket auth without ticket, then auth contract error",
			opts:    []Option{WithAuth(offline)},
			build:   func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x") },
			method:  MethodGet,
			wantErr: ErrAuthContract,
		},
		{
			name: "given offline ticket auth with ticket, then valid",
			opts: []Option{WithAuth(offline)},
			build: func(c *Client) *RequestBuilder {
				return c.WithAuthHeader(c.NewRequest("E", "G", "/x"), "tkt", "user-1")
			},
			method: MethodGet,
		},
		{
			name:   "given GET with an empty body, then valid",
			build:  func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x").BodyString("") },
			method: MethodGet,
		},
		{
			name:   "given FORM_POST with an empty JSON body, then valid",
			build:  func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x").Body([]byte{}) },
			method: MethodFormPost,
		},
		{
			name:   "given POST with a body, then valid",
			build:  func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x").Body(`{}`) },
			method: MethodPost,
		},
		{
			name:   "given DELETE without a body, then valid",
			build:  func(c *Client) *RequestBuilder { return c.NewRequest("E", "G", "/x") },
			method: MethodDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, NewMockTransport(), tt.opts...)

			call, err := tt.build(client).Call(tt.method)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, call)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatePending, call.State())
		})
	}
}

func TestRequestBuilder_RejectedBeforeIO(t *testing.T) {
	mt := NewMockTransport().StubJSON(http.StatusOK, `{}`)
	client := newTestClient(t, mt)

	fallbackCalled := false
	_, err := client.NewRequest("E", "G", "/x").
		Body(`{"a":1}`).
		Fallback(func(error) (*Response, error) {
			fallbackCalled = true
			return nil, nil
		}).
		Get(context.Background())

	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.False(t, fallbackCalled)
	assert.Zero(t, mt.RequestCount())
}

func TestRequestBuilder_EmptyBody(t *testing.T) {
	tests := []struct {
		name string
		set  func(*RequestBuilder) *RequestBuilder
	}{
		{name: "given empty string body, then no body is sent", set: func(rb *RequestBuilder) *RequestBuilder { return rb.Body("") }},
		{name: "given empty raw body, then no body is sent", set: func(rb *RequestBuilder) *RequestBuilder { return rb.BodyString("") }},
		{
			name: "given body replaced by an empty one, then no body is sent",
			set:  func(rb *RequestBuilder) *RequestBuilder { return rb.Body(`{"a":1}`).Body("") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mt := NewMockTransport().StubJSON(http.StatusOK, `{}`)
			client := newTestClient(t, mt)

			_, err := tt.set(client.NewRequest("E", "G", "/x")).Post(context.Background())
			require.NoError(t, err)

			assert.Empty(t, mt.LastRequest().Header.Get("Content-Type"))
			assert.Empty(t, mt.LastBody())
		})
	}
}

func TestRequestBuilder_ConsumedOnce(t *testing.T) {
	client := newTestClient(t, NewMockTransport().StubJSON(http.StatusOK, `{}`))

	rb := client.NewRequest("E", "G", "/x")
	_, err := rb.Get(context.Background())
	require.NoError(t, err)

	_, err = rb.Get(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyExecuted)

	_, err = rb.Call(MethodPost)
	assert.ErrorIs(t, err, ErrAlreadyExecuted)
}

func TestRequestBuilder_Header(t *testing.T) {
	client := newTestClient(t, NewMockTransport())

	rb := client.NewRequest("E", "G", "/x").
		Header("x-trace", "first").
		Header("X-Trace", "second").
		Header("", "ignored").
		Header("X-Blank", "  ").
		Headers(map[string]string{"company-id": "c-1"})

	call, err := rb.Call(MethodGet)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"X-Trace":    "second",
		"Company-Id": "c-1",
	}, call.headers)
}

func TestRequestBuilder_Query(t *testing.T) {
	mt := NewMockTransport().StubJSON(http.StatusOK, `{}`)
	client := newTestClient(t, mt)

	_, err := client.NewRequest("Search", "Users", "/users").
		Query("name", "ann lee").
		Query("limit", "10").
		Get(context.Background())
	require.NoError(t, err)

	q := mt.LastRequest().URL.Query()
	assert.Equal(t, "ann lee", q.Get("name"))
	assert.Equal(t, "10", q.Get("limit"))
}

func TestRequestBuilder_CapturesClientSettings(t *testing.T) {
	client := newTestClient(t, NewMockTransport(),
		WithConnectTimeout(time.Second),
		WithReadTimeout(2*time.Second),
	)

	before := client.NewRequest("E", "G", "/x")

	require.NoError(t, client.SetConnectTimeout(3*time.Second))
	require.NoError(t, client.SetReadTimeout(4*time.Second))

	after := client.NewRequest("E", "G", "/x")

	c1, err := before.Call(MethodGet)
	require.NoError(t, err)
	c2, err := after.Call(MethodGet)
	require.NoError(t, err)

	assert.Equal(t, budget(time.Second, 2*time.Second), c1.Budget())
	assert.Equal(t, budget(3*time.Second, 4*time.Second), c2.Budget())
}

func TestRequestBuilder_URL(t *testing.T) {
	client, err := New("https://ius.test/api/", WithTransport(NewMockTransport()))
	require.NoError(t, err)

	rb := client.NewRequest("GetUser", "Users", "/v1/users/{0}", "u 1")
	assert.Equal(t, "https://ius.test/api/v1/users/u%201", rb.URL())
	assert.Equal(t, "GetUser", rb.EndpointID())
	assert.Equal(t, "Users", rb.GroupID())
}

func TestEncodeJSON(t *testing.T) {
	s, err := EncodeJSON(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, s)

	_, err = EncodeJSON(func() {})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
