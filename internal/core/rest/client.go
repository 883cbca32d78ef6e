package rest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"restdispatch/internal/core/config"
	"restdispatch/internal/shared/logs"
)

// Config is everything needed to assemble a Client.
type Config struct {
	// Host is the platform web origin; the API lives under Host/api/v<Version>.
	Host           string
	Version        int
	RetryLimit     int
	RequestTimeout time.Duration
	Proxy          string
	Mode           Mode
	Debug          bool
	RestTimeOffset time.Duration
	GlobalRPS      float64
	BurstWorkers   int

	UserAgent  string
	Locale     string
	Timezone   string
	Properties ClientProperties
	Headers    http.Header
	AuthExempt []string
}

func DefaultConfig() Config {
	return Config{
		Host:           "https://discord.com",
		Version:        9,
		RetryLimit:     Unlimited,
		RequestTimeout: DefaultRequestTimeout,
		Mode:           ModeSequential,
		RestTimeOffset: 500 * time.Millisecond,
		GlobalRPS:      DefaultGlobalRPS,
		BurstWorkers:   32,
		UserAgent:      DefaultUserAgent,
		Locale:         "en-US",
		Properties:     DefaultProperties(),
	}
}

// ConfigFrom maps the process configuration onto a client Config.
func ConfigFrom(c config.Config) (Config, error) {
	mode, err := ParseMode(c.DispatchMode)
	if err != nil {
		return Config{}, err
	}
	cfg := DefaultConfig()
	cfg.Host = c.APIHost
	cfg.Version = c.APIVersion
	cfg.RetryLimit = c.RetryLimit
	cfg.RequestTimeout = c.RequestTimeout
	cfg.Proxy = c.Proxy
	cfg.Mode = mode
	cfg.Debug = c.Debug
	cfg.RestTimeOffset = c.RestTimeOffset
	cfg.GlobalRPS = c.GlobalRPS
	cfg.BurstWorkers = c.BurstWorkers
	if c.UserAgent != "" {
		cfg.UserAgent = c.UserAgent
	}
	if c.Locale != "" {
		cfg.Locale = c.Locale
		cfg.Properties.SystemLocale = c.Locale
	}
	return cfg, nil
}

// BaseURL is the versioned API root.
func (c Config) BaseURL() string {
	return strings.TrimRight(c.Host, "/") + "/api/v" + strconv.Itoa(c.Version)
}

type clientOptions struct {
	jar      http.CookieJar
	sender   Sender
	observer Observer
	policy   *RetryPolicy
}

type ClientOption func(*clientOptions)

// WithCookieJar shares a jar, typically a Redis backed cookiestore.Jar.
func WithCookieJar(jar http.CookieJar) ClientOption {
	return func(o *clientOptions) { o.jar = jar }
}

// WithSender replaces the HTTP transport.
func WithSender(s Sender) ClientOption {
	return func(o *clientOptions) { o.sender = s }
}

func WithObserver(obs Observer) ClientOption {
	return func(o *clientOptions) { o.observer = obs }
}

func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(o *clientOptions) { o.policy = &p }
}

// Client is the entry point callers use: build, queue, send, classify, retry.
type Client struct {
	cfg       Config
	auth      AuthProvider
	builder   *Builder
	scheduler *Scheduler
}

var _ ClientInterface = (*Client)(nil)

func New(cfg Config, auth AuthProvider, opts ...ClientOption) (*Client, error) {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Host == "" {
		cfg.Host = "https://discord.com"
	}
	if cfg.Version == 0 {
		cfg.Version = 9
	}
	if cfg.Debug {
		logs.EnableDebug()
	}
	if auth == nil {
		auth = NewSession(Credentials{})
	}

	builder, err := NewBuilder(BuilderConfig{
		Origin:     cfg.Host,
		UserAgent:  cfg.UserAgent,
		Locale:     cfg.Locale,
		Timezone:   cfg.Timezone,
		Properties: cfg.Properties,
		Headers:    cfg.Headers,
		AuthExempt: cfg.AuthExempt,
	}, auth)
	if err != nil {
		return nil, err
	}

	sender := o.sender
	if sender == nil {
		transport, err := NewTransport(TransportConfig{
			BaseURL: cfg.BaseURL(),
			Proxy:   cfg.Proxy,
			Timeout: cfg.RequestTimeout,
			Jar:     o.jar,
			Debug:   cfg.Debug,
		})
		if err != nil {
			return nil, err
		}
		sender = transport
	}

	policy := DefaultRetryPolicy(cfg.RetryLimit)
	if o.policy != nil {
		policy = *o.policy
	}

	scheduler, err := NewScheduler(sender, SchedulerConfig{
		Mode:           cfg.Mode,
		Policy:         policy,
		RestTimeOffset: cfg.RestTimeOffset,
		GlobalRPS:      cfg.GlobalRPS,
		BurstWorkers:   cfg.BurstWorkers,
		Observer:       o.observer,
	})
	if err != nil {
		return nil, err
	}

	logs.Info("rest client ready",
		"base_url", cfg.BaseURL(),
		"mode", scheduler.Mode(),
		"proxy", NormalizeProxy(cfg.Proxy) != "",
		"retry_limit", policy.Limit)

	return &Client{
		cfg:       cfg,
		auth:      auth,
		builder:   builder,
		scheduler: scheduler,
	}, nil
}

// Submit builds and queues a request. Build errors resolve the future
// immediately.
func (c *Client) Submit(method, path string, opts Options) *Future {
	d, err := c.builder.Build(method, path, opts)
	if err != nil {
		return failedFuture(err)
	}
	return c.scheduler.Submit(d)
}

// Do submits and waits. ctx bounds the wait only, not the request.
func (c *Client) Do(ctx context.Context, method, path string, opts Options) (*Envelope, error) {
	return c.Submit(method, path, opts).Wait(ctx)
}

func (c *Client) Get(ctx context.Context, path string, opts Options) (*Envelope, error) {
	return c.Do(ctx, http.MethodGet, path, opts)
}

func (c *Client) Post(ctx context.Context, path string, opts Options) (*Envelope, error) {
	return c.Do(ctx, http.MethodPost, path, opts)
}

func (c *Client) Patch(ctx context.Context, path string, opts Options) (*Envelope, error) {
	return c.Do(ctx, http.MethodPatch, path, opts)
}

func (c *Client) Put(ctx context.Context, path string, opts Options) (*Envelope, error) {
	return c.Do(ctx, http.MethodPut, path, opts)
}

func (c *Client) Delete(ctx context.Context, path string, opts Options) (*Envelope, error) {
	return c.Do(ctx, http.MethodDelete, path, opts)
}

type fingerprintSetter interface {
	SetFingerprint(string)
}

// RefreshFingerprint asks the platform for a device fingerprint and, when
// the auth provider can hold one, stores it so later requests carry it.
func (c *Client) RefreshFingerprint(ctx context.Context) (string, error) {
	env, err := c.Get(ctx, "/experiments", Options{})
	if err != nil {
		return "", fmt.Errorf("fetch fingerprint: %w", err)
	}
	var out struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := env.Decode(&out); err != nil {
		return "", fmt.Errorf("decode fingerprint: %w", err)
	}
	if out.Fingerprint == "" {
		return "", fmt.Errorf("fetch fingerprint: response carried no fingerprint")
	}
	if setter, ok := c.auth.(fingerprintSetter); ok {
		setter.SetFingerprint(out.Fingerprint)
	}
	logs.Debug("refreshed fingerprint", "fingerprint", out.Fingerprint)
	return out.Fingerprint, nil
}

// Scheduler exposes the dispatch state for status reporting.
func (c *Client) Scheduler() *Scheduler { return c.scheduler }

func (c *Client) Close(ctx context.Context) error {
	return c.scheduler.Close(ctx)
}
