package rest

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned for requests that were still queued or backing off
// when the client shut down.
var ErrClosed = errors.New("rest client closed")

// AuthRequiredError is returned by the builder when a request needs a token and
// none is available. It is never retried.
type AuthRequiredError struct {
	Method string
	Path   string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("%s %s: request to use token, but token was unavailable to the client", e.Method, e.Path)
}

// RateLimitedError describes a 429 answer from the platform.
type RateLimitedError struct {
	Bucket     string
	RetryAfter time.Duration
	Global     bool
}

func (e *RateLimitedError) Error() string {
	scope := "bucket " + e.Bucket
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("rate limited (%s), retry after %v", scope, e.RetryAfter)
}

// ServerError is a 5xx answer.
type ServerError struct {
	Status     int
	StatusText string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d %s", e.Status, e.StatusText)
}

// NetworkError wraps every failure that prevented a complete response from
// being read: dial, TLS, write, read and timeout errors.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// ClientError is a non-retryable non-2xx answer. Response carries the parsed
// or raw body for diagnostics.
type ClientError struct {
	Status   int
	Body     any
	Response *Envelope
	Attempts int
}

func (e *ClientError) Error() string {
	if e.Response != nil && e.Response.Text != "" {
		return fmt.Sprintf("request failed with status %d after %d attempt(s): %s", e.Status, e.Attempts, truncate(e.Response.Text, 256))
	}
	return fmt.Sprintf("request failed with status %d after %d attempt(s)", e.Status, e.Attempts)
}

// RetriesExhaustedError is returned once the retry limit is reached for a
// retryable condition. Last is the RateLimitedError, ServerError or
// NetworkError of the final attempt.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
	Response *Envelope
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// IsRateLimitError checks if an error is, or wraps, a rate limit error
func IsRateLimitError(err error) bool {
	var rateLimitErr *RateLimitedError
	return errors.As(err, &rateLimitErr)
}

// GetRateLimitError extracts RateLimitedError from an error if present
func GetRateLimitError(err error) *RateLimitedError {
	var rateLimitErr *RateLimitedError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr
	}
	return nil
}

// IsAuthRequired checks if an error is an AuthRequiredError
func IsAuthRequired(err error) bool {
	var authErr *AuthRequiredError
	return errors.As(err, &authErr)
}

// IsRetriesExhausted checks if an error is a RetriesExhaustedError
func IsRetriesExhausted(err error) bool {
	var exhausted *RetriesExhaustedError
	return errors.As(err, &exhausted)
}

// GetClientError extracts ClientError from an error if present
func GetClientError(err error) *ClientError {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr
	}
	return nil
}

// AttemptsOf reports how many HTTP attempts were made before err was returned.
// Zero means the request never reached the network.
func AttemptsOf(err error) int {
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Attempts
	}
	return 0
}

// ResponseOf returns the last response attached to a terminal failure, if any.
func ResponseOf(err error) *Envelope {
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Response
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Response
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
