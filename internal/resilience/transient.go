// Package resilience guards calls to external services: transient error
// classification, retry with backoff, and per-service circuit breakers.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// transientError marks an error as safe to retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. Clients use this on terminal HTTP
// failures (429, 5xx) so downstream classification treats them as
// recoverable rather than permanent.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// transientFragments are substrings that identify wrapped network failures
// once the original error type has been flattened by an HTTP client.
var transientFragments = []string{
	"connection reset by peer",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
}

// IsTransient reports whether err is worth retrying: explicitly marked via
// Transient, a network timeout, a connection-level failure, or a wrapped
// error whose message matches a known transient pattern.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var marked *transientError
	if errors.As(err, &marked) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// RetryableStatus reports whether an HTTP status code indicates a
// server-side condition that may clear on retry.
func RetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
