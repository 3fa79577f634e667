package httpclient

import (
	"fmt"

	"github.com/google/uuid"
)

// Standard header names.
const (
	HeaderCompanyID     = "Company-Id"
	HeaderRequestID     = "Request-Id"
	HeaderTransactionID = "intuit_tid"
)

// StandardHeaders returns the header set most platform services expect:
// Authorization, Company-Id, Request-Id and intuit_tid.
//
// A blank companyID is omitted. A blank requestID is replaced by a new UUID,
// which is used for both Request-Id and intuit_tid.
//
// Example:
//
//	auth, _ := client.Auth().Header()
//	headers, err := httpclient.StandardHeaders(auth, companyID, "")
//	resp, err := client.NewRequest("GetCompany", "Accounts", "/v1/companies/{0}", companyID).
//	    Headers(headers).
//	    Get(ctx)
func StandardHeaders(authHeader, companyID, requestID string) (map[string]string, error) {
	if isBlank(authHeader) {
		return nil, fmt.Errorf("%w: authorization header value is required", ErrConfiguration)
	}

	headers := map[string]string{"Authorization": authHeader}
	if !isBlank(companyID) {
		headers[HeaderCompanyID] = companyID
	}
	if isBlank(requestID) {
		requestID = uuid.NewString()
	}
	headers[HeaderRequestID] = requestID
	headers[HeaderTransactionID] = requestID
	return headers, nil
}
