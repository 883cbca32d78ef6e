package rest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// EmbeddedBrowser is the identity marker that makes the builder advertise the
// default client identity instead of the configured one.
const EmbeddedBrowser = "Discord Embedded"

// ClientProperties is the identity object sent base64-encoded in
// X-Super-Properties. Field order is part of the wire format.
type ClientProperties struct {
	OS                string  `json:"os"`
	Browser           string  `json:"browser"`
	ReleaseChannel    string  `json:"release_channel"`
	ClientVersion     string  `json:"client_version"`
	OSVersion         string  `json:"os_version"`
	OSArch            string  `json:"os_arch"`
	AppArch           string  `json:"app_arch"`
	SystemLocale      string  `json:"system_locale"`
	BrowserUserAgent  string  `json:"browser_user_agent"`
	BrowserVersion    string  `json:"browser_version"`
	ClientBuildNumber int     `json:"client_build_number"`
	NativeBuildNumber int     `json:"native_build_number"`
	ClientEventSource *string `json:"client_event_source"`
}

// DefaultProperties returns the reference desktop client identity.
func DefaultProperties() ClientProperties {
	return ClientProperties{
		OS:                "Windows",
		Browser:           "Discord Client",
		ReleaseChannel:    "stable",
		ClientVersion:     "1.0.9215",
		OSVersion:         "10.0.19045",
		OSArch:            "x64",
		AppArch:           "x64",
		SystemLocale:      "en-US",
		BrowserUserAgent:  DefaultUserAgent,
		BrowserVersion:    "30.1.0",
		ClientBuildNumber: 77438,
		NativeBuildNumber: 470042,
	}
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) discord/1.0.9154 Chrome/124.0.6367.243 Electron/30.1.0 Safari/537.36"

// staticHeaders returns the browser emulation block. origin is the platform's
// web origin, e.g. https://discord.com.
func staticHeaders(origin, locale, timezone, userAgent string) http.Header {
	authority := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		authority = u.Host
	}

	h := make(http.Header)
	h.Set("Priority", "u=1, i")
	h.Set("Authority", authority)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", locale)
	h.Set("Sec-Ch-Ua", `"Not:A-Brand";v="24", "Chromium";v="134"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("X-Debug-Options", "bugReporterEnabled")
	h.Set("X-Discord-Locale", locale)
	h.Set("Referer", origin+"/channels/@me")
	h.Set("Origin", origin)
	h.Set("X-Discord-Timezone", timezone)
	h.Set("User-Agent", userAgent)
	return h
}

// superProperties encodes the identity advertised in X-Super-Properties.
func superProperties(props ClientProperties, userAgent string) (string, error) {
	if props.Browser == EmbeddedBrowser {
		props = DefaultProperties()
	} else if userAgent != "" {
		props.BrowserUserAgent = userAgent
	}
	b, err := marshalJSON(props)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// LocalTimezone resolves the IANA name of the process time zone.
func LocalTimezone() string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" && tz != "Local" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if i := strings.Index(target, "zoneinfo/"); i >= 0 {
			return target[i+len("zoneinfo/"):]
		}
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	return "UTC"
}

// encodeURIComponent percent-encodes everything except the unreserved set
// A-Z a-z 0-9 - _ . ! ~ * ' ( ), matching what browsers send for audit log reasons.
func encodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.IndexByte("-_.!~*'()", c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

// marshalJSON encodes v without HTML escaping and without a trailing newline.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
