package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTimeout marks a request that exceeded the connect, read, or
	// connection acquisition budget. It never carries a response status.
	ErrTimeout = errors.New("client: timeout")
	// ErrTransport marks a request that failed before any response arrived.
	ErrTransport = errors.New("client: transport failure")
	// ErrDecode marks a 2xx response whose body did not match the Foo schema.
	ErrDecode = errors.New("client: decode response")
)

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("client: %s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if detail := strings.TrimSpace(string(e.Body)); detail != "" {
		if len(detail) > 256 {
			detail = detail[:256] + "..."
		}
		msg += ": " + detail
	}
	return msg
}

// IsClientError reports a 4xx response.
func (e *StatusError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsServerError reports a 5xx response.
func (e *StatusError) IsServerError() bool {
	return e.StatusCode >= 500
}

// StatusCode extracts the response status from err when it is a StatusError.
func StatusCode(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	code, ok := StatusCode(err)
	return ok && code == http.StatusNotFound
}

// IsClientError reports whether err is any 4xx response.
func IsClientError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.IsClientError()
}

// IsServerError reports whether err is any 5xx response.
func IsServerError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.IsServerError()
}
