package httpclient

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// AuthKind identifies an AuthStrategy variant.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthBasic
	AuthPrivate
	AuthPrivatePlus
	AuthOfflineTicket
	AuthCustom
)

func (k AuthKind) String() string {
	switch k {
	case AuthNone:
		return "none"
	case AuthBasic:
		return "basic"
	case AuthPrivate:
		return "private"
	case AuthPrivatePlus:
		return "private_plus"
	case AuthOfflineTicket:
		return "offline_ticket"
	case AuthCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// AuthStrategy produces the Authorization header value for a request.
//
// Header is pure: the same params always yield the same value. Strategies are
// immutable after construction and safe for concurrent use.
type AuthStrategy interface {
	Kind() AuthKind
	Header(params ...string) (string, error)
}

const (
	iamScheme = "Intuit_IAM_Authentication"

	// DefaultTokenType is used by PrivateAuthPlus when called with (token, userID).
	DefaultTokenType = "IAM-Ticket"

	offlineTokenType = "IAM-Offline-Ticket"
)

// NoAuth sends no Authorization header.
type NoAuth struct{}

func (NoAuth) Kind() AuthKind { return AuthNone }

func (NoAuth) Header(...string) (string, error) { return "", nil }

// BasicAuth sends "Basic base64(user:password)".
type BasicAuth struct {
	header string
}

// NewBasicAuth creates a BasicAuth from a "user:password" credential.
func NewBasicAuth(credentials string) (*BasicAuth, error) {
	if strings.TrimSpace(credentials) == "" {
		return nil, fmt.Errorf("%w: basic auth credentials must not be blank", ErrConfiguration)
	}
	if !strings.Contains(credentials, ":") {
		return nil, fmt.Errorf("%w: basic auth credentials must be user:password", ErrConfiguration)
	}
	return &BasicAuth{
		header: "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials)),
	}, nil
}

func (a *BasicAuth) Kind() AuthKind { return AuthBasic }

// Header ignores params.
func (a *BasicAuth) Header(...string) (string, error) { return a.header, nil }

// PrivateAuth sends the application identity only.
type PrivateAuth struct {
	header string
}

// NewPrivateAuth creates a PrivateAuth for the given application credentials.
func NewPrivateAuth(appID, appSecret string) (*PrivateAuth, error) {
	header, err := appHeader(iamScheme+" ", appID, appSecret)
	if err != nil {
		return nil, err
	}
	return &PrivateAuth{header: header}, nil
}

func (a *PrivateAuth) Kind() AuthKind { return AuthPrivate }

// Header ignores params.
func (a *PrivateAuth) Header(...string) (string, error) { return a.header, nil }

// PrivateAuthPlus sends the application identity, optionally extended with a
// user token.
//
// Params:
//   - (token, userID): token type defaults to DefaultTokenType
//   - (tokenType, token, userID)
//   - any other arity: application identity only
type PrivateAuthPlus struct {
	header string
}

// NewPrivateAuthPlus creates a PrivateAuthPlus for the given application credentials.
func NewPrivateAuthPlus(appID, appSecret string) (*PrivateAuthPlus, error) {
	header, err := appHeader(iamScheme+" ", appID, appSecret)
	if err != nil {
		return nil, err
	}
	return &PrivateAuthPlus{header: header}, nil
}

func (a *PrivateAuthPlus) Kind() AuthKind { return AuthPrivatePlus }

func (a *PrivateAuthPlus) Header(params ...string) (string, error) {
	var tokenType, token, userID string
	switch len(params) {
	case 2:
		tokenType, token, userID = DefaultTokenType, params[0], params[1]
	case 3:
		tokenType, token, userID = params[0], params[1], params[2]
	default:
		return a.header, nil
	}

	if isBlank(tokenType) || isBlank(token) || isBlank(userID) {
		return "", fmt.Errorf("%w: token type, token and user id must not be blank", ErrAuthContract)
	}

	return fmt.Sprintf("%s,intuit_token_type=%s,intuit_token=%s,intuit_userid=%s",
		a.header, tokenType, token, userID), nil
}

// OfflineTicket authenticates with an offline ticket that must be supplied
// on every call.
type OfflineTicket struct {
	header string
}

// NewOfflineTicket creates an OfflineTicket for the given application credentials.
func NewOfflineTicket(appID, appSecret string) (*OfflineTicket, error) {
	header, err := appHeader(iamScheme+" intuit_token_type="+offlineTokenType+",", appID, appSecret)
	if err != nil {
		return nil, err
	}
	return &OfflineTicket{header: header}, nil
}

func (a *OfflineTicket) Kind() AuthKind { return AuthOfflineTicket }

// Header requires the ticket as the first param; the rest are ignored.
func (a *OfflineTicket) Header(params ...string) (string, error) {
	if len(params) == 0 {
		return "", fmt.Errorf("%w: offline ticket argument is missing", ErrAuthContract)
	}
	if isBlank(params[0]) {
		return "", fmt.Errorf("%w: offline ticket must not be blank", ErrAuthContract)
	}
	return a.header + ",intuit_token=" + params[0], nil
}

// AuthFunc adapts a function into an AuthStrategy of kind AuthCustom.
type AuthFunc func(params ...string) (string, error)

func (f AuthFunc) Kind() AuthKind { return AuthCustom }

func (f AuthFunc) Header(params ...string) (string, error) { return f(params...) }

func appHeader(prefix, appID, appSecret string) (string, error) {
	if isBlank(appID) || isBlank(appSecret) {
		return "", fmt.Errorf("%w: app id and app secret must not be blank", ErrConfiguration)
	}
	return fmt.Sprintf("%sintuit_appid=%s,intuit_app_secret=%s", prefix, appID, appSecret), nil
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
