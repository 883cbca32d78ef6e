package rest

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyJSON(t *testing.T) {
	env := Classify(&RawResponse{
		StatusCode: http.StatusOK,
		StatusText: "OK",
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(`{"id":"1234567890123456789","count":12345678901234567890}`),
	})

	assert.True(t, env.OK)
	assert.True(t, env.Parsed)
	assert.Equal(t, "OK", env.StatusText)
	assert.Equal(t, "application/json", env.Header.Get("Content-Type"))

	count, ok := env.Field("count")
	require.True(t, ok)
	assert.Equal(t, json.Number("12345678901234567890"), count)

	var typed struct {
		ID string `json:"id"`
	}
	require.NoError(t, env.Decode(&typed))
	assert.Equal(t, "1234567890123456789", typed.ID)
}

func TestClassifyNonJSON(t *testing.T) {
	for _, body := range []string{"", "   ", "<html>bad gateway</html>", `{"a":1} trailing`} {
		env := Classify(&RawResponse{StatusCode: http.StatusBadGateway, Body: []byte(body)})
		assert.False(t, env.Parsed, body)
		assert.Nil(t, env.Body, body)
		assert.Equal(t, body, env.Text)
		assert.Equal(t, []byte(body), env.Raw)
		assert.False(t, env.OK)
		assert.NotNil(t, env.Header)
	}
}

func TestClassifyOKFromStatusOnly(t *testing.T) {
	assert.True(t, Classify(&RawResponse{StatusCode: http.StatusNoContent}).OK)
	assert.True(t, Classify(&RawResponse{StatusCode: 299}).OK)
	assert.False(t, Classify(&RawResponse{StatusCode: 300}).OK)
	assert.False(t, Classify(&RawResponse{StatusCode: 199}).OK)
}
