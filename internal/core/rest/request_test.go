package rest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T, creds Credentials, mutate ...func(*BuilderConfig)) *Builder {
	t.Helper()
	cfg := BuilderConfig{
		Origin:   "https://discord.com",
		Timezone: "Europe/Berlin",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	b, err := NewBuilder(cfg, NewSession(creds))
	require.NoError(t, err)
	return b
}

func TestBuildStaticHeaders(t *testing.T) {
	b := newTestBuilder(t, Credentials{Token: "abc"})

	d, err := b.Build("get", "/users/@me", Options{Auth: true})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, d.Method)
	assert.Equal(t, "users/@me", d.Bucket)
	assert.Equal(t, BodyNone, d.Kind)
	assert.Nil(t, d.Body)

	h := d.Header
	assert.Equal(t, "u=1, i", h.Get("Priority"))
	assert.Equal(t, "discord.com", h.Get("Authority"))
	assert.Equal(t, "*/*", h.Get("Accept"))
	assert.Equal(t, "en-US", h.Get("Accept-Language"))
	assert.Equal(t, `"Not:A-Brand";v="24", "Chromium";v="134"`, h.Get("Sec-Ch-Ua"))
	assert.Equal(t, "?0", h.Get("Sec-Ch-Ua-Mobile"))
	assert.Equal(t, `"Windows"`, h.Get("Sec-Ch-Ua-Platform"))
	assert.Equal(t, "empty", h.Get("Sec-Fetch-Dest"))
	assert.Equal(t, "cors", h.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "same-origin", h.Get("Sec-Fetch-Site"))
	assert.Equal(t, "bugReporterEnabled", h.Get("X-Debug-Options"))
	assert.Equal(t, "en-US", h.Get("X-Discord-Locale"))
	assert.Equal(t, "https://discord.com/channels/@me", h.Get("Referer"))
	assert.Equal(t, "https://discord.com", h.Get("Origin"))
	assert.Equal(t, "Europe/Berlin", h.Get("X-Discord-Timezone"))
	assert.Equal(t, DefaultUserAgent, h.Get("User-Agent"))
	assert.Equal(t, "abc", h.Get("Authorization"))

	for _, absent := range []string{"X-Audit-Log-Reason", "X-Context-Properties", "Cookie", "X-Captcha-Key", "X-Captcha-Rqtoken", "Fingerprint", "Content-Type"} {
		assert.Empty(t, h.Get(absent), absent)
	}
}

func TestBuildAuthorization(t *testing.T) {
	bot := newTestBuilder(t, Credentials{Token: "tkn", Bot: true})
	d, err := bot.Build(http.MethodGet, "/gateway", Options{Auth: true})
	require.NoError(t, err)
	assert.Equal(t, "Bot tkn", d.Header.Get("Authorization"))

	d, err = bot.Build(http.MethodGet, "/gateway", Options{})
	require.NoError(t, err)
	assert.Empty(t, d.Header.Get("Authorization"))
}

func TestBuildAuthRequired(t *testing.T) {
	b := newTestBuilder(t, Credentials{})

	_, err := b.Build(http.MethodPatch, "/users/@me/settings", Options{Auth: true})
	require.Error(t, err)
	assert.True(t, IsAuthRequired(err))

	_, err = b.Build(http.MethodGet, "/experiments", Options{})
	assert.NoError(t, err)
}

func TestBuildAuthExempt(t *testing.T) {
	b := newTestBuilder(t, Credentials{}, func(c *BuilderConfig) {
		c.AuthExempt = []string{"/auth/"}
	})

	d, err := b.Build(http.MethodPost, "/auth/login", Options{Auth: true})
	require.NoError(t, err)
	assert.Empty(t, d.Header.Get("Authorization"))
}

func TestBuildDynamicHeaders(t *testing.T) {
	b := newTestBuilder(t, Credentials{Token: "abc", Cookie: "__dcfduid=1", Fingerprint: "fp.1"})

	d, err := b.Build(http.MethodDelete, "/guilds/111111111111111111/members/222222222222222222", Options{
		Auth:              true,
		Reason:            "spam & abuse (again)!",
		ContextProperties: "eyJsb2NhdGlvbiI6Ik1lbWJlcnMifQ==",
		CaptchaKey:        "captcha-solution",
		CaptchaRqtoken:    "rq",
	})
	require.NoError(t, err)

	assert.Equal(t, "spam%20%26%20abuse%20(again)!", d.Header.Get("X-Audit-Log-Reason"))
	assert.Equal(t, "eyJsb2NhdGlvbiI6Ik1lbWJlcnMifQ==", d.Header.Get("X-Context-Properties"))
	assert.Equal(t, "__dcfduid=1", d.Header.Get("Cookie"))
	assert.Equal(t, "fp.1", d.Header.Get("Fingerprint"))
	assert.Equal(t, "captcha-solution", d.Header.Get("X-Captcha-Key"))
	assert.Equal(t, "rq", d.Header.Get("X-Captcha-Rqtoken"))
	assert.Equal(t, "spam & abuse (again)!", d.Reason)
}

func TestBuildCaptchaRqtokenNeedsKey(t *testing.T) {
	b := newTestBuilder(t, Credentials{Token: "abc"})

	d, err := b.Build(http.MethodPost, "/channels/111111111111111111/messages", Options{Auth: true, CaptchaRqtoken: "rq"})
	require.NoError(t, err)
	assert.Empty(t, d.Header.Get("X-Captcha-Key"))
	assert.Empty(t, d.Header.Get("X-Captcha-Rqtoken"))
}

func TestBuildSuperProperties(t *testing.T) {
	decode := func(t *testing.T, d *Descriptor) map[string]any {
		t.Helper()
		raw, err := base64.StdEncoding.DecodeString(d.Header.Get("X-Super-Properties"))
		require.NoError(t, err)
		var props map[string]any
		require.NoError(t, json.Unmarshal(raw, &props))
		return props
	}

	custom := DefaultProperties()
	custom.Browser = "Chrome"
	custom.OS = "Linux"
	b := newTestBuilder(t, Credentials{}, func(c *BuilderConfig) {
		c.Properties = custom
		c.UserAgent = "custom-agent/1.0"
	})
	d, err := b.Build(http.MethodGet, "/experiments", Options{})
	require.NoError(t, err)
	props := decode(t, d)
	assert.Equal(t, "Chrome", props["browser"])
	assert.Equal(t, "Linux", props["os"])
	assert.Equal(t, "custom-agent/1.0", props["browser_user_agent"])
	assert.Contains(t, props, "client_event_source")
	assert.Nil(t, props["client_event_source"])

	embedded := DefaultProperties()
	embedded.Browser = EmbeddedBrowser
	embedded.OS = "Android"
	b = newTestBuilder(t, Credentials{}, func(c *BuilderConfig) {
		c.Properties = embedded
		c.UserAgent = "custom-agent/1.0"
	})
	d, err = b.Build(http.MethodGet, "/experiments", Options{})
	require.NoError(t, err)
	props = decode(t, d)
	assert.Equal(t, "Discord Client", props["browser"])
	assert.Equal(t, "Windows", props["os"])
	assert.Equal(t, DefaultUserAgent, props["browser_user_agent"])
}

func TestSuperPropertiesFieldOrder(t *testing.T) {
	sp, err := superProperties(DefaultProperties(), "")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(sp)
	require.NoError(t, err)

	want := `{"os":"Windows","browser":"Discord Client","release_channel":"stable","client_version":"1.0.9215",` +
		`"os_version":"10.0.19045","os_arch":"x64","app_arch":"x64","system_locale":"en-US",` +
		`"browser_user_agent":"` + DefaultUserAgent + `","browser_version":"30.1.0",` +
		`"client_build_number":77438,"native_build_number":470042,"client_event_source":null}`
	assert.Equal(t, want, string(raw))
}

func TestBuildJSONBody(t *testing.T) {
	b := newTestBuilder(t, Credentials{Token: "abc"})

	d, err := b.Build(http.MethodPatch, "/users/@me/settings", Options{
		Auth: true,
		Data: map[string]any{"custom_status": map[string]any{"text": "<away>"}},
	})
	require.NoError(t, err)
	assert.Equal(t, BodyJSON, d.Kind)
	assert.Equal(t, "application/json", d.Header.Get("Content-Type"))
	assert.Equal(t, `{"custom_status":{"text":"<away>"}}`, string(d.Body))
}

func TestBuildMultipartBody(t *testing.T) {
	b := newTestBuilder(t, Credentials{Token: "abc"})

	d, err := b.Build(http.MethodPost, "/channels/111111111111111111/messages", Options{
		Auth:  true,
		Data:  map[string]int{"a": 1},
		Files: []FileAttachment{{Name: "cat.png", Data: []byte{0x89, 'P', 'N', 'G'}}},
	})
	require.NoError(t, err)
	assert.Equal(t, BodyMultipart, d.Kind)

	mediaType, params, err := mime.ParseMediaType(d.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	r := multipart.NewReader(bytes.NewReader(d.Body), params["boundary"])

	part, err := r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "cat.png", part.FormName())
	assert.Equal(t, "cat.png", part.FileName())
	assert.Equal(t, "application/octet-stream", part.Header.Get("Content-Type"))
	content, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, content)

	part, err = r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "payload_json", part.FormName())
	content, err = io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(content))

	_, err = r.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestBuildMultipartKeepsFileContentType(t *testing.T) {
	b := newTestBuilder(t, Credentials{Token: "abc"})

	d, err := b.Build(http.MethodPost, "/channels/111111111111111111/messages", Options{
		Auth:  true,
		Files: []FileAttachment{{Name: "notes.txt", Data: []byte("hi"), ContentType: "text/plain"}},
	})
	require.NoError(t, err)

	_, params, err := mime.ParseMediaType(d.Header.Get("Content-Type"))
	require.NoError(t, err)
	r := multipart.NewReader(bytes.NewReader(d.Body), params["boundary"])
	part, err := r.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "text/plain", part.Header.Get("Content-Type"))

	_, err = r.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestBuildConfiguredHeadersOverride(t *testing.T) {
	b := newTestBuilder(t, Credentials{}, func(c *BuilderConfig) {
		c.Headers = http.Header{"accept-language": {"de-DE"}}
	})

	d, err := b.Build(http.MethodGet, "/experiments", Options{Header: http.Header{"X-Trace": {"1"}}})
	require.NoError(t, err)
	assert.Equal(t, "de-DE", d.Header.Get("Accept-Language"))
	assert.Equal(t, "1", d.Header.Get("X-Trace"))
}

func TestEncodeURIComponent(t *testing.T) {
	assert.Equal(t, "a-b_c.d!e~f*g'h(i)j", encodeURIComponent("a-b_c.d!e~f*g'h(i)j"))
	assert.Equal(t, "%C3%A9t%C3%A9%2F%3F%3D%2B", encodeURIComponent("été/?=+"))
}
