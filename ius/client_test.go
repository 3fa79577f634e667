package ius

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/kroma-labs/callguard/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

const signInBody = `{"iamTicket":{"ticket":"V1-52-b24iwutcp6ptrn3csxewfd","userId":"123146405308532",` +
	`"agentId":"123146405308532","authenticationLevel":"25","namespaceId":"50000003"},` +
	`"needContactInfoUpdate":false,"action":"PASS","riskLevel":"LOW"}`

type captured struct {
	auth          string
	originatingIP string
	contentType   string
	creds         credentials
}

// newFakeIUS serves both ticket endpoints. status is returned for every call.
func newFakeIUS(t *testing.T, status int, got *captured) *httptest.Server {
	t.Helper()

	respond := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			got.auth = r.Header.Get("Authorization")
			got.originatingIP = r.Header.Get(HeaderOriginatingIP)
			got.contentType = r.Header.Get("Content-Type")
			_ = json.NewDecoder(r.Body).Decode(&got.creds)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if status < http.StatusBadRequest {
				_, _ = w.Write([]byte(body))
				return
			}
			_, _ = w.Write([]byte(`{"errorCode":"INVALID_CREDENTIALS"}`))
		}
	}

	r := chi.NewRouter()
	r.Post(signInPath, respond(signInBody))
	r.Post(offlineTicketPath, respond(`{"offlineTicket":"OT-123"}`))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(url, "app-id", "app-secret",
		httpclient.WithMeterProvider(noop.NewMeterProvider()),
		httpclient.WithProxyFromEnvironment(false),
		httpclient.WithConnectTimeout(time.Second),
		httpclient.WithReadTimeout(2*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(c.HTTP().Close)
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		host      string
		appID     string
		appSecret string
		wantErr   error
	}{
		{name: "given valid credentials, then client is created", host: "https://ius.test", appID: "a", appSecret: "s"},
		{name: "given blank app id, then configuration error", host: "https://ius.test", appID: " ", appSecret: "s", wantErr: httpclient.ErrConfiguration},
		{name: "given blank host, then configuration error", host: "", appID: "a", appSecret: "s", wantErr: httpclient.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.host, tt.appID, tt.appSecret)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ServiceName, c.HTTP().BreakerName())
			assert.Equal(t, httpclient.AuthPrivate, c.HTTP().Auth().Kind())
		})
	}
}

func TestClient_GenerateTicket(t *testing.T) {
	var got captured
	srv := newFakeIUS(t, http.StatusOK, &got)
	c := newTestClient(t, srv.URL)

	resp, err := c.GenerateTicket(context.Background(), "user@example.com", "test1234")
	require.NoError(t, err)

	ticket, ok := resp["iamTicket"].(map[string]any)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ticket["ticket"].(string), "V1-"))
	assert.Equal(t, "123146405308532", ticket["userId"])

	assert.True(t, strings.HasPrefix(got.auth, "Intuit_IAM_Authentication intuit_appid=app-id"), got.auth)
	assert.Equal(t, DefaultOriginatingIP, got.originatingIP)
	assert.Contains(t, got.contentType, "application/json")
	assert.Equal(t, credentials{Username: "user@example.com", Password: "test1234"}, got.creds)
}

func TestClient_SignIn(t *testing.T) {
	var got captured
	srv := newFakeIUS(t, http.StatusOK, &got)
	c := newTestClient(t, srv.URL).WithOriginatingIP("10.0.0.7")

	resp, err := c.SignIn(context.Background(), "user@example.com", `pa"ss`)
	require.NoError(t, err)

	assert.Equal(t, "V1-52-b24iwutcp6ptrn3csxewfd", resp.IAMTicket.Ticket)
	assert.Equal(t, "25", resp.IAMTicket.AuthenticationLevel)
	assert.Equal(t, "PASS", resp.Action)
	assert.Equal(t, "LOW", resp.RiskLevel)
	assert.Equal(t, "10.0.0.7", got.originatingIP)
	assert.Equal(t, `pa"ss`, got.creds.Password, "credentials are JSON-escaped")
}

func TestClient_GenerateOfflineTicket(t *testing.T) {
	var got captured
	srv := newFakeIUS(t, http.StatusOK, &got)
	c := newTestClient(t, srv.URL)

	resp, err := c.GenerateOfflineTicket(context.Background(), "system", "secret")
	require.NoError(t, err)
	assert.Equal(t, "OT-123", resp["offlineTicket"])
	assert.Equal(t, "system", got.creds.Username)
}

func TestClient_ErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "given 401, then unauthorized", status: http.StatusUnauthorized, wantErr: httpclient.ErrUnauthorized},
		{name: "given 400, then bad request", status: http.StatusBadRequest, wantErr: httpclient.ErrBadRequest},
		{name: "given 503, then call failed", status: http.StatusServiceUnavailable, wantErr: httpclient.ErrCallFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			srv := newFakeIUS(t, tt.status, &got)
			c := newTestClient(t, srv.URL)

			resp, err := c.GenerateTicket(context.Background(), "user@example.com", "wrong")
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
