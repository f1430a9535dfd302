package advboxsync

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrMissingCredential means no ADVBox API token is configured.
	ErrMissingCredential = errors.New("advbox: API token is not configured")

	// ErrUpstreamUnauthorized means ADVBox rejected the configured token.
	ErrUpstreamUnauthorized = errors.New("advbox: upstream rejected credentials")

	// ErrThrottled means rate-limit retries were exhausted for one page.
	ErrThrottled = errors.New("advbox: upstream throttled")

	// ErrNoExternalID marks a record that carries no usable identifier.
	ErrNoExternalID = errors.New("advbox: record has no external id")
)

// HTTPError is a non-2xx response from ADVBox.
type HTTPError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("advbox: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("advbox: HTTP %d: %s", e.StatusCode, e.Body)
}

// RateLimited reports whether the response was a 429.
func (e *HTTPError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// RecordError describes a record that failed shape validation.
type RecordError struct {
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return "invalid record: " + e.Reason
	}
	return fmt.Sprintf("invalid record field %q: %s", e.Field, e.Reason)
}

func isRateLimited(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.RateLimited()
}
