// Package ius is a client for the identity service that issues IAM tickets
// and offline tickets for username/password accounts.
//
// Example:
//
//	c, err := ius.New("https://accounts.platform.example", appID, appSecret,
//	    httpclient.WithLogger(logger),
//	)
//	resp, err := c.GenerateTicket(ctx, "user@example.com", password)
package ius

import (
	"context"
	"fmt"

	"github.com/kroma-labs/callguard/httpclient"
)

const (
	// ServiceName names the client's circuit breaker and telemetry.
	ServiceName = "ius"

	// Group is the call group of every ticket request.
	Group = "IUSGroup"

	// HeaderOriginatingIP carries the caller's address to the identity service.
	HeaderOriginatingIP = "intuit_originatingip"

	// DefaultOriginatingIP is sent when no address was configured.
	DefaultOriginatingIP = "123.45.67.89"

	signInPath        = "/v1/iamtickets/sign_in"
	offlineTicketPath = "/v1/offline_tickets/create_for_system_user"
)

// Client issues tickets. It is safe for concurrent use.
type Client struct {
	http          *httpclient.Client
	originatingIP string
}

// IAMTicket is the ticket part of a sign-in response.
type IAMTicket struct {
	Ticket              string `json:"ticket"`
	UserID              string `json:"userId"`
	AgentID             string `json:"agentId"`
	AuthenticationLevel string `json:"authenticationLevel"`
	NamespaceID         string `json:"namespaceId"`
}

// SignInResponse is the decoded body of a sign-in call.
type SignInResponse struct {
	IAMTicket             IAMTicket `json:"iamTicket"`
	NeedContactInfoUpdate bool      `json:"needContactInfoUpdate"`
	Action                string    `json:"action"`
	RiskLevel             string    `json:"riskLevel"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// New creates a Client for host authenticated with the application's
// private auth. opts are applied after the defaults, so callers can replace
// the service name, timeouts or transport.
func New(host, appID, appSecret string, opts ...httpclient.Option) (*Client, error) {
	auth, err := httpclient.NewPrivateAuth(appID, appSecret)
	if err != nil {
		return nil, err
	}

	base := []httpclient.Option{
		httpclient.WithAuth(auth),
		httpclient.WithServiceName(ServiceName),
	}
	hc, err := httpclient.New(host, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("ius: %w", err)
	}

	return &Client{http: hc, originatingIP: DefaultOriginatingIP}, nil
}

// WithOriginatingIP returns a copy of c that reports ip as the caller address.
func (c *Client) WithOriginatingIP(ip string) *Client {
	cp := *c
	cp.originatingIP = ip
	return &cp
}

// HTTP returns the underlying resilient client.
func (c *Client) HTTP() *httpclient.Client { return c.http }

// GenerateTicket signs username in and returns the raw response document.
//
// Sample response:
//
//	{"iamTicket":{"ticket":"V1-52-...","userId":"123146405308532",...},"action":"PASS","riskLevel":"LOW"}
func (c *Client) GenerateTicket(ctx context.Context, username, password string) (map[string]any, error) {
	resp, err := c.post(ctx, "GenerateIAMTicketCmd", signInPath, username, password)
	if err != nil {
		return nil, err
	}
	return resp.Map()
}

// SignIn is GenerateTicket decoded into a SignInResponse.
func (c *Client) SignIn(ctx context.Context, username, password string) (*SignInResponse, error) {
	resp, err := c.post(ctx, "GenerateIAMTicketCmd", signInPath, username, password)
	if err != nil {
		return nil, err
	}
	return httpclient.DecodeAs[SignInResponse](resp)
}

// GenerateOfflineTicket creates an offline ticket for a system user.
//
// Sample response:
//
//	{"offlineTicket":"..."}
func (c *Client) GenerateOfflineTicket(ctx context.Context, username, password string) (map[string]any, error) {
	resp, err := c.post(ctx, "GenerateOfflineTicketCmd", offlineTicketPath, username, password)
	if err != nil {
		return nil, err
	}
	return resp.Map()
}

func (c *Client) post(ctx context.Context, endpoint, path, username, password string) (*httpclient.Response, error) {
	body, err := httpclient.EncodeJSON(credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}

	resp, err := c.http.NewRequest(endpoint, Group, path).
		Header(HeaderOriginatingIP, c.originatingIP).
		BodyString(body).
		Post(ctx)
	if err != nil {
		return nil, err
	}
	return resp.RaiseForStatus()
}
