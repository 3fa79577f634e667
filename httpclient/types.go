package httpclient

import "net/http"

// RoundTripper represents an HTTP round tripper for testing.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// Method is the verb a Call is executed with.
//
// MethodFormPost is sent on the wire as POST with a url-encoded form body.
type Method string

const (
	MethodGet      Method = http.MethodGet
	MethodPost     Method = http.MethodPost
	MethodPut      Method = http.MethodPut
	MethodPatch    Method = http.MethodPatch
	MethodDelete   Method = http.MethodDelete
	MethodHead     Method = http.MethodHead
	MethodOptions  Method = http.MethodOptions
	MethodFormPost Method = "FORM_POST"
)

// wire returns the HTTP verb sent to the remote server.
func (m Method) wire() string {
	if m == MethodFormPost {
		return http.MethodPost
	}
	return string(m)
}

func (m Method) valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete,
		MethodHead, MethodOptions, MethodFormPost:
		return true
	}
	return false
}

// allowsBody reports whether requests with this method may carry a payload.
func (m Method) allowsBody() bool {
	switch m {
	case MethodGet, MethodHead, MethodOptions:
		return false
	}
	return true
}

// idempotent reports whether the method may be safely re-sent.
func (m Method) idempotent() bool {
	switch m {
	case MethodGet, MethodHead, MethodOptions, MethodPut, MethodDelete:
		return true
	}
	return false
}
