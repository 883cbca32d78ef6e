package rest

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BodyKind tells how a descriptor's body was encoded.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyJSON
	BodyMultipart
)

func (k BodyKind) String() string {
	switch k {
	case BodyJSON:
		return "json"
	case BodyMultipart:
		return "multipart"
	default:
		return "none"
	}
}

// FileAttachment is one uploaded file. ContentType defaults to
// application/octet-stream.
type FileAttachment struct {
	Name        string
	Data        []byte
	ContentType string
}

// Options enumerates everything a caller can attach to a request.
type Options struct {
	Auth bool
	// Data is serialized as the JSON body, or as payload_json when Files is set.
	Data              any
	Files             []FileAttachment
	Reason            string
	ContextProperties string
	CaptchaKey        string
	CaptchaRqtoken    string
	// Header is applied last and overrides computed headers.
	Header http.Header
}

// Descriptor is a fully built request. Everything but the attempt counter is
// fixed at build time; the body is encoded once so retries replay it exactly.
type Descriptor struct {
	Method    string
	Path      string
	Bucket    string
	Auth      bool
	Kind      BodyKind
	Body      []byte
	Header    http.Header
	Reason    string
	CreatedAt time.Time

	attempts  int
	admission uint64
}

// Attempts is the number of retries already performed for this descriptor.
func (d *Descriptor) Attempts() int { return d.attempts }

// BuilderConfig holds the identity the builder presents.
type BuilderConfig struct {
	// Origin is the platform web origin used for Origin, Referer and Authority.
	Origin     string
	UserAgent  string
	Locale     string
	Timezone   string
	Properties ClientProperties
	// Headers override the static browser block.
	Headers http.Header
	// AuthExempt lists path prefixes that may be sent without a token.
	AuthExempt []string
}

// Builder turns call options into descriptors.
type Builder struct {
	auth       AuthProvider
	static     http.Header
	superProps string
	exempt     []string
	now        func() time.Time
}

func NewBuilder(cfg BuilderConfig, auth AuthProvider) (*Builder, error) {
	if cfg.Origin == "" {
		cfg.Origin = "https://discord.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = LocalTimezone()
	}
	if cfg.Properties == (ClientProperties{}) {
		cfg.Properties = DefaultProperties()
	}
	if auth == nil {
		auth = NewSession(Credentials{})
	}

	sp, err := superProperties(cfg.Properties, cfg.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("encode super properties: %w", err)
	}

	static := staticHeaders(strings.TrimRight(cfg.Origin, "/"), cfg.Locale, cfg.Timezone, cfg.UserAgent)
	for k, v := range cfg.Headers {
		static[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}

	return &Builder{
		auth:       auth,
		static:     static,
		superProps: sp,
		exempt:     cfg.AuthExempt,
		now:        time.Now,
	}, nil
}

// Build assembles the descriptor for one call. It fails with
// AuthRequiredError when auth is requested, no token is available and the
// path is not exempt.
func (b *Builder) Build(method, path string, opts Options) (*Descriptor, error) {
	method = strings.ToUpper(method)
	creds := b.auth.Credentials()

	if opts.Auth && creds.Token == "" && !b.isExempt(path) {
		return nil, &AuthRequiredError{Method: method, Path: path}
	}

	h := b.static.Clone()
	if opts.Reason != "" {
		h.Set("X-Audit-Log-Reason", encodeURIComponent(opts.Reason))
	}
	if opts.ContextProperties != "" {
		h.Set("X-Context-Properties", opts.ContextProperties)
	}
	if opts.Auth && creds.Token != "" {
		h.Set("Authorization", creds.authorization())
	}
	if creds.Cookie != "" {
		h.Set("Cookie", creds.Cookie)
	}
	h.Set("X-Super-Properties", b.superProps)
	if opts.CaptchaKey != "" {
		h.Set("X-Captcha-Key", opts.CaptchaKey)
		if opts.CaptchaRqtoken != "" {
			h.Set("X-Captcha-Rqtoken", opts.CaptchaRqtoken)
		}
	}
	if creds.Fingerprint != "" {
		h.Set("Fingerprint", creds.Fingerprint)
	}

	d := &Descriptor{
		Method:    method,
		Path:      path,
		Bucket:    Bucket(path),
		Auth:      opts.Auth,
		Header:    h,
		Reason:    opts.Reason,
		CreatedAt: b.now(),
	}

	switch {
	case len(opts.Files) > 0:
		body, contentType, err := encodeMultipart(opts.Files, opts.Data)
		if err != nil {
			return nil, fmt.Errorf("encode multipart body for %s %s: %w", method, path, err)
		}
		d.Kind, d.Body = BodyMultipart, body
		h.Set("Content-Type", contentType)
	case opts.Data != nil:
		body, err := marshalJSON(opts.Data)
		if err != nil {
			return nil, fmt.Errorf("encode json body for %s %s: %w", method, path, err)
		}
		d.Kind, d.Body = BodyJSON, body
		h.Set("Content-Type", "application/json")
	}

	for k, v := range opts.Header {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	return d, nil
}

func (b *Builder) isExempt(path string) bool {
	for _, prefix := range b.exempt {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
