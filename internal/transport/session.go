package transport

import "sync"

// Session holds the bearer token attached to outgoing requests.
// It is shared read-only by the client; only the owner of the session changes it.
type Session struct {
	mu    sync.RWMutex
	token string
}

// NewSession creates a session with an optional initial token.
func NewSession(token string) *Session {
	return &Session{token: token}
}

// Token returns the current token, or "" when signed out.
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the token.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear removes the token.
func (s *Session) Clear() {
	s.SetToken("")
}
