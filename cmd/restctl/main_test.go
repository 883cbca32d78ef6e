package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"restdispatch/internal/fakeapi"
	"restdispatch/internal/shared/logs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T, srv *fakeapi.Server) {
	t.Helper()
	t.Setenv("API_HOST", srv.URL)
	t.Setenv("TOKEN", "cli-token")
	t.Setenv("RETRY_LIMIT", "0")
	t.Setenv("REST_TIME_OFFSET_MS", "0")
	t.Setenv("REDIS_URL", "")
	t.Setenv("DEBUG", "false")
	t.Cleanup(func() { logsToStdout() })
}

func TestRunDirectCall(t *testing.T) {
	srv := fakeapi.New()
	defer srv.Close()
	setupEnv(t, srv)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-method", "patch", "-path", "/users/@me/settings", "-data", `{"theme":"dark"}`, "-reason", "cli"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var out output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.True(t, out.OK)
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.JSONEq(t, `{"method":"PATCH","path":"/users/@me/settings"}`, string(out.Body))

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "cli-token", calls[0].Header.Get("Authorization"))
	assert.JSONEq(t, `{"theme":"dark"}`, string(calls[0].Body))
}

func TestRunFailureExitCode(t *testing.T) {
	srv := fakeapi.New()
	defer srv.Close()
	setupEnv(t, srv)
	srv.Script(http.MethodDelete, "/channels/111111111111111111", fakeapi.Response{
		Status: http.StatusForbidden,
		Body:   map[string]any{"message": "Missing Permissions", "code": 50013},
	})

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-method", "DELETE", "-path", "/channels/111111111111111111"}, &stdout, &stderr)
	assert.Equal(t, 1, code)

	var out output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.False(t, out.OK)
	assert.Equal(t, http.StatusForbidden, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Contains(t, out.Error, "403")
}

func TestRunAttachment(t *testing.T) {
	srv := fakeapi.New()
	defer srv.Close()
	setupEnv(t, srv)

	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("quarterly numbers"), 0o600))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-method", "POST", "-path", "/channels/111111111111111111/messages", "-data", `{"content":"report"}`, "-file", path}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	calls := srv.Calls()
	require.Len(t, calls, 1)
	assert.True(t, strings.HasPrefix(calls[0].Header.Get("Content-Type"), "multipart/form-data"))
	assert.Contains(t, string(calls[0].Body), `filename="report.txt"`)
	assert.Contains(t, string(calls[0].Body), "quarterly numbers")
}

func TestRunRejectsBadArguments(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"-method", "GET"}, &stdout, &stderr))
	assert.Equal(t, 2, run(context.Background(), []string{"-path", "/x", "-data", "{oops"}, &stdout, &stderr))
	assert.Equal(t, 2, run(context.Background(), []string{"-bogus"}, &stdout, &stderr))
	assert.Empty(t, stdout.String())
}

func logsToStdout() { logs.SetOutput(os.Stdout) }
