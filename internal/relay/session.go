package relay

import (
	"context"
	"sync"
)

// OpenFunc performs the session handshake and returns a session credential.
type OpenFunc func(ctx context.Context) (string, error)

// Session is a lazily opened handle to the relay service. It is owned by the
// processor that created it and shared by every Process call. Nothing is
// opened until the first Token call; a failed handshake leaves the session
// closed so the next call tries again.
type Session struct {
	open OpenFunc

	mu    sync.Mutex
	token string
	ready bool
	opens int
}

// NewSession wraps open without calling it.
func NewSession(open OpenFunc) *Session {
	return &Session{open: open}
}

// Token returns the session credential, opening the session on first use.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return s.token, nil
	}
	token, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.ready = true
	s.opens++
	return token, nil
}

// Invalidate drops the cached credential so the next Token call reopens.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.ready = false
}

// Ready reports whether a credential is cached.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Opens counts successful handshakes.
func (s *Session) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}
