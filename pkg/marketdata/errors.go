package marketdata

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrPayloadShape indicates the response body was not a JSON array.
var ErrPayloadShape = errors.New("marketdata: unexpected payload format, expected a list")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marketdata: http status %d: %s", e.StatusCode, e.Body)
}

// Failure classifies why a fetch attempt failed.
type Failure string

const (
	FailureNone      Failure = ""
	FailureTimeout   Failure = "timeout"
	FailureTransport Failure = "transport"
	FailurePayload   Failure = "payload"
	FailureFatal     Failure = "fatal"
)

// Classify maps an attempt error onto its failure class.
func Classify(err error) Failure {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, ErrPayloadShape) {
		return FailurePayload
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return FailureTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return FailureTransport
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureTransport
	}
	return FailureFatal
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case FailureTimeout, FailureTransport, FailurePayload:
		return true
	default:
		return false
	}
}
