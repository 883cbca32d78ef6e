package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"restdispatch/internal/core/cookiestore"
	"restdispatch/internal/shared/logs"
)

// DefaultRequestTimeout is the per-attempt deadline.
const DefaultRequestTimeout = 15 * time.Second

// RawResponse is a fully read HTTP answer.
type RawResponse struct {
	StatusCode int
	StatusText string
	Header     http.Header
	Body       []byte
}

// Sender performs one HTTP exchange for a descriptor.
type Sender interface {
	Send(ctx context.Context, d *Descriptor) (*RawResponse, error)
}

// TransportConfig is built once per client and read-only afterwards.
type TransportConfig struct {
	// BaseURL is the versioned API root, e.g. https://discord.com/api/v9.
	BaseURL string
	Proxy   string
	Timeout time.Duration
	// Jar defaults to an in-memory cookiestore.Jar.
	Jar   http.CookieJar
	Debug bool
}

// Transport sends descriptors over a browser-profiled HTTP client.
type Transport struct {
	client  *http.Client
	baseURL string
	proxy   string
	debug   bool
}

func NewTransport(cfg TransportConfig) (*Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.Jar == nil {
		jar, err := cookiestore.New(nil, "")
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		cfg.Jar = jar
	}

	tr := tunedTransport()
	proxy := NormalizeProxy(cfg.Proxy)
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
		}
		if !supportedProxyScheme(u.Scheme) {
			return nil, fmt.Errorf("unsupported proxy scheme %q: use http, https, socks5 or socks5h", u.Scheme)
		}
		tr.Proxy = http.ProxyURL(u)
		if cfg.Debug {
			logs.Debug("initializing proxy", "proxy", proxy)
		}
	}

	return &Transport{
		client: &http.Client{
			Transport: tr,
			Timeout:   cfg.Timeout,
			Jar:       cfg.Jar,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		proxy:   proxy,
		debug:   cfg.Debug,
	}, nil
}

// tunedTransport returns the shared transport with the browser TLS profile.
// Environment proxies are ignored; only the configured proxy is used.
func tunedTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 nil,
		TLSClientConfig:       browserTLSConfig(),
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    false,
	}
}

// NormalizeProxy prefixes http:// unless the value already names an http,
// https or socks scheme. Empty input means a direct connection.
func NormalizeProxy(proxy string) string {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return ""
	}
	if strings.HasPrefix(proxy, "http://") || strings.HasPrefix(proxy, "https://") || strings.HasPrefix(proxy, "socks") {
		return proxy
	}
	return "http://" + proxy
}

// supportedProxyScheme reports whether net/http can dial through the scheme.
func supportedProxyScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https", "socks5", "socks5h":
		return true
	}
	return false
}

// Send performs one exchange. Any failure before the body is fully read is
// returned as a *NetworkError.
func (t *Transport) Send(ctx context.Context, d *Descriptor) (*RawResponse, error) {
	target := t.baseURL + d.Path
	if t.debug {
		if t.proxy != "" {
			logs.Debug("using proxy for request", "url", target, "proxy", t.proxy)
		} else {
			logs.Debug("no proxy used for request", "url", target)
		}
	}

	var body io.Reader
	if d.Body != nil {
		body = bytes.NewReader(d.Body)
	}
	req, err := http.NewRequestWithContext(ctx, d.Method, target, body)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	req.Header = d.Header.Clone()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Cause: fmt.Errorf("read body: %w", err)}
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
