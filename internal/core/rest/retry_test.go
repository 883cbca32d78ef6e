package rest

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noJitter(time.Duration) time.Duration { return 0 }

func envelope(status int, header http.Header, body string) *Envelope {
	return Classify(&RawResponse{StatusCode: status, StatusText: http.StatusText(status), Header: header, Body: []byte(body)})
}

func TestEvaluateSuccess(t *testing.T) {
	p := DefaultRetryPolicy(3)
	d := p.Evaluate(envelope(http.StatusOK, nil, `{}`), nil, 0)
	assert.Equal(t, ActionDone, d.Action)
	assert.NoError(t, d.Err)
}

func TestEvaluateRateLimited(t *testing.T) {
	p := DefaultRetryPolicy(2)
	env := envelope(http.StatusTooManyRequests, nil, `{"message":"You are being rate limited.","retry_after":0.2,"global":false}`)

	d := p.Evaluate(env, nil, 0)
	require.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, 200*time.Millisecond, d.Delay)
	assert.Equal(t, "rate_limited", d.Reason)
	assert.True(t, IsRateLimitError(d.Err))

	d = p.Evaluate(env, nil, 2)
	require.Equal(t, ActionFail, d.Action)
	assert.True(t, IsRetriesExhausted(d.Err))
	assert.True(t, IsRateLimitError(d.Err))
	assert.Equal(t, 3, AttemptsOf(d.Err))
	assert.Same(t, env, ResponseOf(d.Err))
}

func TestEvaluateZeroLimitNeverRetries(t *testing.T) {
	p := DefaultRetryPolicy(0)
	d := p.Evaluate(envelope(http.StatusServiceUnavailable, nil, ""), nil, 0)
	require.Equal(t, ActionFail, d.Action)
	assert.Equal(t, 1, AttemptsOf(d.Err))
}

func TestEvaluateUnlimited(t *testing.T) {
	p := DefaultRetryPolicy(Unlimited)
	p.jitter = noJitter
	d := p.Evaluate(envelope(http.StatusBadGateway, nil, ""), nil, 10_000)
	assert.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, p.MaxDelay, d.Delay)

	d = p.Evaluate(envelope(http.StatusBadRequest, nil, `{"code":50035}`), nil, 0)
	assert.Equal(t, ActionFail, d.Action)
}

func TestEvaluateServerAndNetworkBackoff(t *testing.T) {
	p := DefaultRetryPolicy(5)
	p.jitter = noJitter

	d := p.Evaluate(envelope(http.StatusInternalServerError, nil, "oops"), nil, 0)
	require.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, 500*time.Millisecond, d.Delay)
	var serverErr *ServerError
	assert.True(t, errors.As(d.Err, &serverErr))

	d = p.Evaluate(nil, &NetworkError{Cause: errors.New("connection reset")}, 2)
	require.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, 2*time.Second, d.Delay)
	assert.Equal(t, "network", d.Reason)

	d = p.Evaluate(nil, &NetworkError{Cause: errors.New("timeout")}, 5)
	require.Equal(t, ActionFail, d.Action)
	var netErr *NetworkError
	assert.True(t, errors.As(d.Err, &netErr))
	assert.Nil(t, ResponseOf(d.Err))
}

func TestBackoffJitterBounded(t *testing.T) {
	p := DefaultRetryPolicy(5)
	for i := 0; i < 100; i++ {
		delay := p.backoff(1)
		assert.GreaterOrEqual(t, delay, time.Second)
		assert.LessOrEqual(t, delay, time.Second+200*time.Millisecond)
	}
}

func TestEvaluateClientError(t *testing.T) {
	p := DefaultRetryPolicy(Unlimited)
	env := envelope(http.StatusForbidden, nil, `{"message":"Missing Access","code":50001}`)

	d := p.Evaluate(env, nil, 1)
	require.Equal(t, ActionFail, d.Action)
	clientErr := GetClientError(d.Err)
	require.NotNil(t, clientErr)
	assert.Equal(t, http.StatusForbidden, clientErr.Status)
	assert.Equal(t, 2, clientErr.Attempts)
	body, ok := clientErr.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Missing Access", body["message"])
}

func TestRetryAfterSources(t *testing.T) {
	d, global := RetryAfter(envelope(429, http.Header{"Retry-After": {"3"}}, `{"retry_after":1.5,"global":true}`))
	assert.Equal(t, 1500*time.Millisecond, d)
	assert.True(t, global)

	d, global = RetryAfter(envelope(429, http.Header{"Retry-After": {"3"}}, ""))
	assert.Equal(t, 3*time.Second, d)
	assert.False(t, global)

	d, global = RetryAfter(envelope(429, http.Header{"X-Ratelimit-Reset-After": {"0.25"}, "X-Ratelimit-Global": {"true"}}, "not json"))
	assert.Equal(t, 250*time.Millisecond, d)
	assert.True(t, global)

	d, _ = RetryAfter(envelope(429, nil, ""))
	assert.Equal(t, DefaultRetryAfter, d)
}
