package rest

import "sync"

// Credentials is what the builder needs from the surrounding session.
type Credentials struct {
	Token string
	// Bot selects the "Bot <token>" authorization form.
	Bot         bool
	Cookie      string
	Fingerprint string
}

// AuthProvider supplies credentials at build time. It is called once per
// Build so rotated tokens take effect on the next request.
type AuthProvider interface {
	Credentials() Credentials
}

// Session is a mutable AuthProvider safe for concurrent use.
type Session struct {
	mu    sync.RWMutex
	creds Credentials
}

func NewSession(creds Credentials) *Session {
	return &Session{creds: creds}
}

func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *Session) SetToken(token string, bot bool) {
	s.mu.Lock()
	s.creds.Token = token
	s.creds.Bot = bot
	s.mu.Unlock()
}

func (s *Session) SetCookie(cookie string) {
	s.mu.Lock()
	s.creds.Cookie = cookie
	s.mu.Unlock()
}

func (s *Session) SetFingerprint(fingerprint string) {
	s.mu.Lock()
	s.creds.Fingerprint = fingerprint
	s.mu.Unlock()
}

func (c Credentials) authorization() string {
	if c.Bot {
		return "Bot " + c.Token
	}
	return c.Token
}
