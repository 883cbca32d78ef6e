// Package fakeapi is an in-process stand-in for the platform REST API. It
// enforces per-route and global limits with the same headers and 429 bodies
// the real API uses, records every call and hands out a session cookie.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"restdispatch/internal/shared/logs"

	"github.com/ulule/limiter/v3"
	lstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// SessionCookie is the cookie set on the first response.
const SessionCookie = "__dcfduid"

// Call is one recorded request.
type Call struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
	At     time.Time
}

// Response is a scripted answer. Zero Status means 200.
type Response struct {
	Status int
	Header http.Header
	Body   any
	// Raw is written verbatim instead of Body when set.
	Raw   []byte
	Delay time.Duration
}

type Option func(*Server)

// WithRouteRate limits each path independently.
func WithRouteRate(rate limiter.Rate) Option {
	return func(s *Server) {
		s.routes = limiter.New(memory.NewStore(), rate)
	}
}

// WithGlobalRate limits all requests together.
func WithGlobalRate(rate limiter.Rate) Option {
	return func(s *Server) {
		s.global = limiter.New(memory.NewStore(), rate, limiter.WithTrustForwardHeader(true))
	}
}

// WithFingerprint sets the value GET /experiments returns.
func WithFingerprint(fp string) Option {
	return func(s *Server) { s.fingerprint = fp }
}

type Server struct {
	*httptest.Server

	routes      *limiter.Limiter
	global      *limiter.Limiter
	fingerprint string

	mu       sync.Mutex
	calls    []Call
	scripts  map[string][]Response
	inFlight int
	peak     int
}

// New starts the server. Close it when done.
func New(opts ...Option) *Server {
	s := &Server{
		scripts:     make(map[string][]Response),
		fingerprint: "1234567890123456789.fakefingerprint",
	}
	for _, opt := range opts {
		opt(s)
	}

	var h http.Handler = http.HandlerFunc(s.serve)
	if s.global != nil {
		mw := lstdlib.NewMiddleware(s.global, lstdlib.WithLimitReachedHandler(s.globalLimitReached))
		h = mw.Handler(h)
	}
	s.Server = httptest.NewServer(s.track(h))
	return s
}

// Script queues responses for method and path, consumed in order before the
// default behaviour resumes.
func (s *Server) Script(method, path string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToUpper(method) + " " + path
	s.scripts[key] = append(s.scripts[key], responses...)
}

// Calls returns a copy of every recorded request.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// PeakConcurrency is the most requests ever handled at the same time.
func (s *Server) PeakConcurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

// APIBase is the versioned root clients should target.
func (s *Server) APIBase() string {
	return s.URL + "/api/v9"
}

func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method: r.Method,
			Path:   strings.TrimPrefix(r.URL.Path, "/api/v9"),
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
			At:     time.Now(),
		})
		s.inFlight++
		if s.inFlight > s.peak {
			s.peak = s.inFlight
		}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
		}()

		if _, err := r.Cookie(SessionCookie); err != nil {
			http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: strconv.FormatInt(time.Now().UnixNano(), 36), Path: "/", MaxAge: 3600})
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v9")

	if s.routes != nil {
		lctx, err := s.routes.Get(r.Context(), r.Method+" "+path)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
			return
		}
		setLimitHeaders(w.Header(), lctx, path)
		if lctx.Reached {
			retryAfter := resetAfter(lctx)
			logs.Debug("fakeapi route limit reached", "path", path, "retry_after", retryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"message":     "You are being rate limited.",
				"retry_after": retryAfter,
				"global":      false,
			})
			return
		}
	}

	if resp, ok := s.nextScripted(r.Method, path); ok {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for k, v := range resp.Header {
			w.Header()[http.CanonicalHeaderKey(k)] = v
		}
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		if resp.Raw != nil || resp.Body == nil {
			w.WriteHeader(status)
			_, _ = w.Write(resp.Raw)
			return
		}
		writeJSON(w, status, resp.Body)
		return
	}

	switch {
	case r.Method == http.MethodGet && path == "/experiments":
		writeJSON(w, http.StatusOK, map[string]any{"fingerprint": s.fingerprint, "assignments": []any{}})
	case r.Header.Get("Authorization") == "" && path != "/experiments":
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "401: Unauthorized", "code": 0})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"method": r.Method, "path": path})
	}
}

func (s *Server) nextScripted(method, path string) (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	queue := s.scripts[key]
	if len(queue) == 0 {
		return Response{}, false
	}
	s.scripts[key] = queue[1:]
	return queue[0], true
}

func (s *Server) globalLimitReached(w http.ResponseWriter, r *http.Request) {
	retryAfter := 1.0
	if reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64); err == nil {
		if d := time.Until(time.Unix(reset, 0)).Seconds(); d > 0 {
			retryAfter = d
		}
	}
	w.Header().Set("X-RateLimit-Global", "true")
	w.Header().Set("X-RateLimit-Scope", "global")
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"message":     "You are being rate limited.",
		"retry_after": retryAfter,
		"global":      true,
	})
}

func setLimitHeaders(h http.Header, lctx limiter.Context, bucket string) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
	h.Set("X-RateLimit-Reset-After", fmt.Sprintf("%.3f", resetAfter(lctx)))
	h.Set("X-RateLimit-Bucket", bucket)
}

// resetAfter rounds the window end up to the next second, since the store
// only reports whole epoch seconds.
func resetAfter(lctx limiter.Context) float64 {
	d := time.Until(time.Unix(lctx.Reset+1, 0)).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
