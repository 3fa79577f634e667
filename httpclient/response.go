package httpclient

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Response is the fully read result of a call.
//
// The body is read to completion before the Response is returned, so the
// value is independent of the connection it came from. Decoding methods
// never modify RawBody and can be called repeatedly.
//
// Example usage:
//
//	resp, err := client.NewRequest("GetCompany", "Accounts", "/v1/companies/{0}", id).Get(ctx)
//	if err != nil {
//	    return err
//	}
//	if _, err := resp.RaiseForStatus(); err != nil {
//	    return err
//	}
//	company, err := httpclient.DecodeAs[Company](resp)
type Response struct {
	// StatusCode is the HTTP status code, e.g. 200.
	StatusCode int

	// StatusReason is the reason phrase, e.g. "OK".
	StatusReason string

	// RawBody is the body decoded as text.
	RawBody string

	// Headers holds one value per header name, keyed canonically
	// ("Content-Type"). When a header repeats, the last value wins.
	Headers map[string]string
}

// newResponse builds a Response from a completed round trip and its body.
func newResponse(resp *http.Response, body []byte) *Response {
	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[http.CanonicalHeaderKey(name)] = values[len(values)-1]
		}
	}

	return &Response{
		StatusCode:   resp.StatusCode,
		StatusReason: statusReason(resp),
		RawBody:      string(body),
		Headers:      headers,
	}
}

// statusReason extracts the reason phrase from "200 OK".
func statusReason(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

// Header returns the value of the named header, matched case-insensitively.
func (r *Response) Header(name string) string {
	return r.Headers[http.CanonicalHeaderKey(name)]
}

// IsSuccess returns true for status codes below 300.
func (r *Response) IsSuccess() bool {
	return r.StatusCode < http.StatusMultipleChoices
}

// isJSON reports whether the body should be decoded as JSON.
//
// A blank body is never JSON. A missing Content-Type is decoded
// optimistically, as is a blank one. A present, non-JSON Content-Type is an error.
func (r *Response) isJSON() (bool, error) {
	if strings.TrimSpace(r.RawBody) == "" {
		return false, nil
	}

	ct := strings.TrimSpace(r.Header("Content-Type"))
	if ct == "" {
		return true, nil
	}
	if !isJSONContentType(ct) {
		return false, &ContentTypeError{ContentType: ct}
	}
	return true, nil
}

// isJSONContentType accepts application/json and any +json media type.
func isJSONContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.Contains(strings.ToLower(ct), "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// Map decodes the body as a JSON object.
//
// A blank body yields an empty map. A non-JSON Content-Type yields
// ErrContentTypeMismatch; malformed JSON yields ErrDecode.
func (r *Response) Map() (map[string]any, error) {
	ok, err := r.isJSON()
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]any{}, nil
	}

	m := make(map[string]any)
	if err := json.Unmarshal([]byte(r.RawBody), &m); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return m, nil
}

// Decode decodes the body as JSON into v.
//
// A blank body leaves v untouched and returns nil.
func (r *Response) Decode(v any) error {
	ok, err := r.isJSON()
	if err != nil || !ok {
		return err
	}
	if err := json.Unmarshal([]byte(r.RawBody), v); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// DecodeAs decodes the body as JSON into a new T.
//
// A blank body yields (nil, nil).
//
// Example:
//
//	user, err := httpclient.DecodeAs[User](resp)
func DecodeAs[T any](r *Response) (*T, error) {
	ok, err := r.isJSON()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	v := new(T)
	if err := json.Unmarshal([]byte(r.RawBody), v); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return v, nil
}

// RaiseForStatus returns r unchanged for status codes below 300 and an
// *HTTPError otherwise.
//
// Status mapping:
//   - 400: ErrBadRequest
//   - 401: ErrUnauthorized
//   - 403: ErrForbidden
//   - 404: ErrNotFound
//   - 409: ErrConflict
//   - anything else: ErrHTTP
func (r *Response) RaiseForStatus() (*Response, error) {
	if r.IsSuccess() {
		return r, nil
	}

	var kind error
	switch r.StatusCode {
	case http.StatusBadRequest:
		kind = ErrBadRequest
	case http.StatusUnauthorized:
		kind = ErrUnauthorized
	case http.StatusForbidden:
		kind = ErrForbidden
	case http.StatusNotFound:
		kind = ErrNotFound
	case http.StatusConflict:
		kind = ErrConflict
	default:
		kind = ErrHTTP
	}

	return nil, &HTTPError{
		Kind:       kind,
		StatusCode: r.StatusCode,
		Reason:     r.StatusReason,
		Body:       r.RawBody,
	}
}

// String returns "<status> <reason>" for logging.
func (r *Response) String() string {
	return strconv.Itoa(r.StatusCode) + " " + r.StatusReason
}
