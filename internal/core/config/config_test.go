package config

import (
	"bytes"
	"os"
	"testing"
	"time"

	"restdispatch/internal/shared/logs"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"API_HOST", "API_VERSION", "RETRY_LIMIT", "REQUEST_TIMEOUT_MS", "DISPATCH_MODE", "REST_TIME_OFFSET_MS", "DEBUG"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, "https://discord.com", cfg.APIHost)
	assert.Equal(t, 9, cfg.APIVersion)
	assert.Equal(t, RetryUnlimited, cfg.RetryLimit)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "sequential", cfg.DispatchMode)
	assert.Equal(t, 500*time.Millisecond, cfg.RestTimeOffset)
	assert.False(t, cfg.Debug)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("RETRY_LIMIT", "3")
	t.Setenv("DISPATCH_MODE", "Burst")
	t.Setenv("DEBUG", "true")
	t.Setenv("REQUEST_TIMEOUT_MS", "2500")
	t.Setenv("GLOBAL_RPS", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, 3, cfg.RetryLimit)
	assert.Equal(t, "burst", cfg.DispatchMode)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 2500*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, 50.0, cfg.GlobalRPS)
}

func TestParseRetryLimit(t *testing.T) {
	var buf bytes.Buffer
	logs.SetOutput(&buf)
	t.Cleanup(func() { logs.SetOutput(os.Stdout) })

	assert.Equal(t, RetryUnlimited, parseRetryLimit("Infinity"))
	assert.Equal(t, RetryUnlimited, parseRetryLimit("-1"))
	assert.Equal(t, 0, parseRetryLimit("0"))
	assert.Equal(t, 12, parseRetryLimit(" 12 "))
	assert.Equal(t, DefaultRetryLimit, parseRetryLimit(""))
	assert.Empty(t, buf.String())

	for _, bad := range []string{"abc", "-5", "3x"} {
		buf.Reset()
		assert.Equal(t, DefaultRetryLimit, parseRetryLimit(bad), bad)
		assert.Contains(t, buf.String(), "invalid RETRY_LIMIT", bad)
		assert.Contains(t, buf.String(), `"value":"`+bad+`"`)
	}
}
