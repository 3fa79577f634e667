// Package httpclient provides a resilient HTTP client for calling platform
// services: every call runs inside a circuit breaker, is bounded by a
// connect timeout, a read timeout and a total budget, and draws its
// connection from a bounded pool.
//
// # Features
//
//   - Fluent request builder with positional path parameters
//   - Pluggable auth strategies (Basic, Private, PrivatePlus, OfflineTicket)
//   - Per-client circuit breaker (sony/gobreaker), optionally shared via Redis
//   - Connect, read-idle and total budget timeouts classified separately
//   - Bounded connection leases per route and in total
//   - Optional fallback, rate limit and retry per request
//   - OpenTelemetry spans and metrics, Prometheus collector, zerolog events
//
// # Quick Start
//
//	auth, err := httpclient.NewPrivateAuth(appID, appSecret)
//	client, err := httpclient.New("https://accounts.platform.example",
//	    httpclient.WithAuth(auth),
//	    httpclient.WithServiceName("accounts"),
//	    httpclient.WithLogger(logger),
//	)
//
//	resp, err := client.NewRequest("GetCompany", "Accounts", "/v1/companies/{0}", companyID).
//	    Header("Company-Id", companyID).
//	    Get(ctx)
//	if err != nil {
//	    return err
//	}
//	company, err := httpclient.DecodeAs[Company](resp)
//
// # Timeouts
//
// ConnectTimeout bounds everything before the request is written: rate limit
// wait, pool lease, TCP and TLS setup. ReadTimeout is the longest silence
// allowed while waiting for the response head or between body chunks. The
// budget, connect + read + BudgetBuffer, caps a whole attempt. Each produces
// a *TimeoutError with its Phase.
//
// # Configuration Presets
//
//	client, err := httpclient.New(baseURL,
//	    httpclient.WithConfig(httpclient.LowLatencyConfig()),
//	)
//
// Settings can also be loaded from a viper instance:
//
//	s, err := httpclient.LoadSettings(v, "accounts")
//	client, err := httpclient.New(baseURL, s.Options()...)
//
// # Fallback
//
//	resp, err := client.NewRequest("GetLimits", "Accounts", "/v1/limits").
//	    Fallback(func(reason error) (*httpclient.Response, error) {
//	        return cachedLimits, nil
//	    }).
//	    Get(ctx)
//
// The fallback replaces every failure except cancellation of the caller's
// own context.
//
// # Errors
//
// Errors match one of the package sentinels with errors.Is:
//
//	switch {
//	case errors.Is(err, httpclient.ErrBreakerOpen):
//	case errors.Is(err, httpclient.ErrTimeout):
//	case errors.Is(err, httpclient.ErrPoolExhausted):
//	case errors.Is(err, httpclient.ErrCallFailed):
//	}
//
// # Testing
//
// MockTransport stands in for the network and honours connect deadlines
// and read timeouts:
//
//	mt := httpclient.NewMockTransport().StubJSON(http.StatusOK, `{"id":"1"}`)
//	client, _ := httpclient.New("https://api.test", httpclient.WithTransport(mt))
package httpclient
