package reliability

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ent0n29/parlor/internal/policy"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// StatusError reports a non-2xx answer from an upstream HTTP service.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	body := policy.RedactCredentials(strings.TrimSpace(e.Body))
	if body == "" {
		return fmt.Sprintf("%s http status %d", e.Service, e.Code)
	}
	return fmt.Sprintf("%s http status %d: %s", e.Service, e.Code, body)
}

func (e *StatusError) Retryable() bool {
	return IsRetryableHTTPStatus(e.Code)
}

// IsRetryable reports whether a manual retry of the failed operation is
// likely to succeed. Nothing in the service retries automatically; the hint
// is surfaced to clients.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
