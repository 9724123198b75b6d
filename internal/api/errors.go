package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

var (
	// ErrNotAvailableOffline is returned for offline reads with no valid
	// cached response.
	ErrNotAvailableOffline = errors.New("data not available offline")

	// ErrActionNotAvailableOffline is returned for offline writes that
	// cannot be queued for replay.
	ErrActionNotAvailableOffline = errors.New("action not available offline")

	// ErrOffline marks a request that was not attempted because the
	// connectivity monitor reports OFFLINE.
	ErrOffline = errors.New("offline")

	// ErrIncompleteResponse marks a response whose body could not be read.
	// The server already handled the request, so it is never retried
	// offline.
	ErrIncompleteResponse = errors.New("incomplete response")
)

// APIError is a non-2xx response from the server. It is never treated as
// an offline condition.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsNetworkError reports whether err means the server could not be reached:
// the monitor reported OFFLINE, or the transport failed before a response
// arrived. Server responses and caller cancellation are not network errors.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOffline) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrIncompleteResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
