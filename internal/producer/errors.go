// Package producer implements the client-side half of the event pipeline:
// a retrying HTTP client (Client) and a best-effort in-memory buffer
// (Buffer) that batches events before handing them to the client.
package producer

import (
	"errors"
	"fmt"
	"time"
)

// ErrDisposed is returned by Add/AddMany/Push/PushBatch/Send once Dispose
// has been called; the client or buffer is terminal from that point on.
var ErrDisposed = errors.New("producer: disposed")

// ErrRequestTimedOut is returned when a request's timeout elapses before a
// response is received, reported to callers as status code 0.
var ErrRequestTimedOut = errors.New("producer: request timed out")

// RateLimitError is returned when the server responds 429. RetryAfter is
// parsed from the Retry-After header, defaulting to 60s if absent or
// unparsable.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("producer: rate limited, retry after %s", e.RetryAfter)
}

// HTTPError wraps a non-2xx response that isn't otherwise classified
// (RateLimitError for 429). Code and Message come from the server's
// {error:{code,message}} envelope when present.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("producer: server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}

	return fmt.Sprintf("producer: server returned %d: %s", e.StatusCode, e.Message)
}

// isRetryable reports whether err should be retried by the Client: 5xx and
// the two transport-level failures (timeout, request timed out). 4xx
// (including RateLimitError, handled separately by the caller) and
// ErrDisposed are never retried.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	return errors.Is(err, ErrRequestTimedOut)
}
