// Package provider implements the webinar provider REST API client:
// token lifecycle, retrying HTTP transport, and the listing endpoints the
// sync engine consumes.
package provider

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrReconnectRequired marks a token refresh failure that cannot be retried:
// the stored credentials are no longer valid and the user must reconnect the
// account. Jobs hitting this must transition to failed.
var ErrReconnectRequired = errors.New("provider: connection requires reauthorization")

// APIError is a non-2xx response from the provider API.
type APIError struct {
	StatusCode int
	Code       int    // provider-specific error code from the response body
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider API error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider API error %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is worth retrying: timeouts, rate limits
// and provider 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection refused", "connection reset", "temporary failure"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsAuthExpired reports whether err indicates an expired or rejected bearer
// token. The caller refreshes once and retries the original call.
func IsAuthExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsEndpointUnsupported reports whether err means the endpoint rejected the
// request outright rather than failing transiently. The report participants
// endpoint does this for webinars outside the account's plan or retention
// window; the caller falls back to the basic endpoint.
func IsEndpointUnsupported(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
