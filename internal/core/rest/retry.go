package rest

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Unlimited disables the retry cap.
const Unlimited = -1

// Action is the outcome of evaluating one attempt.
type Action int

const (
	ActionDone Action = iota
	ActionRetry
	ActionFail
)

// Decision is what the scheduler does next with a descriptor.
type Decision struct {
	Action Action
	Delay  time.Duration
	// Err is set for ActionFail, and for ActionRetry it is the condition being retried.
	Err error
	// Reason labels retries and failures for logs and metrics.
	Reason string
}

// RetryPolicy decides between success, retry and terminal failure.
type RetryPolicy struct {
	// Limit is the number of retries allowed; Unlimited retries forever.
	Limit     int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	jitter func(max time.Duration) time.Duration
}

func DefaultRetryPolicy(limit int) RetryPolicy {
	return RetryPolicy{
		Limit:     limit,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
	}
}

// Evaluate classifies one attempt. attempt is the number of retries already
// performed, so the first send is attempt 0. Exactly one of env and err is set.
func (p RetryPolicy) Evaluate(env *Envelope, err error, attempt int) Decision {
	if err != nil {
		return p.retryOrExhaust(err, env, attempt, p.backoff(attempt), "network")
	}
	if env.OK {
		return Decision{Action: ActionDone}
	}

	switch {
	case env.StatusCode == http.StatusTooManyRequests:
		retryAfter, global := RetryAfter(env)
		limited := &RateLimitedError{RetryAfter: retryAfter, Global: global}
		return p.retryOrExhaust(limited, env, attempt, retryAfter, "rate_limited")
	case env.StatusCode >= 500 && env.StatusCode <= 599:
		return p.retryOrExhaust(&ServerError{Status: env.StatusCode, StatusText: env.StatusText}, env, attempt, p.backoff(attempt), "server_error")
	default:
		return Decision{
			Action: ActionFail,
			Reason: "client_error",
			Err: &ClientError{
				Status:   env.StatusCode,
				Body:     env.Body,
				Response: env,
				Attempts: attempt + 1,
			},
		}
	}
}

func (p RetryPolicy) retryOrExhaust(cause error, env *Envelope, attempt int, delay time.Duration, reason string) Decision {
	if p.Limit < 0 || attempt < p.Limit {
		return Decision{Action: ActionRetry, Delay: delay, Err: cause, Reason: reason}
	}
	return Decision{
		Action: ActionFail,
		Reason: "retries_exhausted",
		Err: &RetriesExhaustedError{
			Attempts: attempt + 1,
			Last:     cause,
			Response: env,
		},
	}
}

// backoff is BaseDelay*2^attempt capped at MaxDelay, plus up to 20% jitter.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := maxDelay
	if attempt < 30 {
		if d := base << attempt; d > 0 && d < maxDelay {
			delay = d
		}
	}

	jitter := p.jitter
	if jitter == nil {
		jitter = randomJitter
	}
	return delay + jitter(delay/5)
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// DefaultRetryAfter is used when a 429 carries no usable hint.
const DefaultRetryAfter = time.Second

// RetryAfter reads the wait a 429 asks for: the body's retry_after in
// seconds, then the Retry-After header, then X-RateLimit-Reset-After. global
// reports whether the limit applies to the whole client.
func RetryAfter(env *Envelope) (time.Duration, bool) {
	global := strings.EqualFold(env.Header.Get("X-RateLimit-Global"), "true") ||
		strings.EqualFold(env.Header.Get("X-RateLimit-Scope"), "global")
	if v, ok := env.Field("global"); ok {
		if b, isBool := v.(bool); isBool && b {
			global = true
		}
	}

	if v, ok := env.Field("retry_after"); ok {
		if d, ok := seconds(v); ok {
			return d, global
		}
	}
	if d, ok := parseSeconds(env.Header.Get("Retry-After")); ok {
		return d, global
	}
	if d, ok := parseSeconds(env.Header.Get("X-RateLimit-Reset-After")); ok {
		return d, global
	}
	return DefaultRetryAfter, global
}

func seconds(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case json.Number:
		return parseSeconds(n.String())
	case float64:
		return floatSeconds(n)
	case string:
		return parseSeconds(n)
	}
	return 0, false
}

func parseSeconds(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return floatSeconds(f)
}

func floatSeconds(f float64) (time.Duration, bool) {
	if f < 0 {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}
