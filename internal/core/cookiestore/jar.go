// Package cookiestore keeps the session cookies the platform hands out and
// optionally mirrors them to Redis so they survive a restart.
package cookiestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"sync"
	"time"

	rediscore "restdispatch/internal/core/redis"
	"restdispatch/internal/shared/logs"

	"github.com/redis/go-redis/v9"
	"golang.org/x/net/publicsuffix"
)

// StoredCookie is the persisted form of one cookie.
type StoredCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Host     string    `json:"host"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// Snapshot is what Persist writes and Restore reads.
type Snapshot struct {
	Cookies []StoredCookie `json:"cookies"`
	SavedAt time.Time      `json:"saved_at"`
}

// Jar is an http.CookieJar that also records what it was given.
type Jar struct {
	jar *cookiejar.Jar
	rdb *redis.Client
	key string

	mu      sync.Mutex
	cookies map[string]StoredCookie
	now     func() time.Time
}

var _ http.CookieJar = (*Jar)(nil)

// New returns a jar using the public suffix list for domain matching. rdb may
// be nil, in which case Persist and Restore are no-ops.
func New(rdb *redis.Client, key string) (*Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if key == "" {
		key = "rest:cookies"
	}
	return &Jar{
		jar:     jar,
		rdb:     rdb,
		key:     key,
		cookies: make(map[string]StoredCookie),
		now:     time.Now,
	}, nil
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	now := j.now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		sc := StoredCookie{
			Name:     c.Name,
			Value:    c.Value,
			Host:     u.Host,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		switch {
		case c.MaxAge < 0:
			delete(j.cookies, cookieID(sc))
			continue
		case c.MaxAge > 0:
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			if !c.Expires.After(now) {
				delete(j.cookies, cookieID(sc))
				continue
			}
			sc.Expires = c.Expires
		}
		j.cookies[cookieID(sc)] = sc
	}
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// Snapshot returns the live cookies, expired entries dropped.
func (j *Jar) Snapshot() Snapshot {
	now := j.now()
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]StoredCookie, 0, len(j.cookies))
	for id, c := range j.cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			delete(j.cookies, id)
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return cookieID(out[a]) < cookieID(out[b]) })
	return Snapshot{Cookies: out, SavedAt: now}
}

// Load replays a snapshot into the jar.
func (j *Jar) Load(s Snapshot) {
	for _, c := range s.Cookies {
		if c.Host == "" {
			continue
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		u := &url.URL{Scheme: scheme, Host: c.Host, Path: "/"}
		j.SetCookies(u, []*http.Cookie{{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}})
	}
}

// Persist writes the current snapshot to Redis.
func (j *Jar) Persist(ctx context.Context) error {
	if j.rdb == nil {
		return nil
	}
	snap := j.Snapshot()
	if err := rediscore.SaveJSON(ctx, j.rdb, j.key, snap, 0); err != nil {
		return fmt.Errorf("persist cookies: %w", err)
	}
	logs.Debug("persisted cookie snapshot", "key", j.key, "cookies", len(snap.Cookies))
	return nil
}

// Restore loads the snapshot stored in Redis. A missing key is not an error.
func (j *Jar) Restore(ctx context.Context) error {
	if j.rdb == nil {
		return nil
	}
	var snap Snapshot
	if err := rediscore.GetJSON(ctx, j.rdb, j.key, &snap); err != nil {
		if errors.Is(err, rediscore.ErrNotFound) {
			logs.Info("no cookie snapshot stored", "key", j.key)
			return nil
		}
		return fmt.Errorf("restore cookies: %w", err)
	}
	j.Load(snap)
	logs.Info("restored cookie snapshot", "key", j.key, "cookies", len(snap.Cookies), "saved_at", snap.SavedAt)
	return nil
}

// Key is the Redis key the jar persists to.
func (j *Jar) Key() string { return j.key }

func cookieID(c StoredCookie) string {
	domain := c.Domain
	if domain == "" {
		domain = c.Host
	}
	return domain + "|" + c.Path + "|" + c.Name
}
