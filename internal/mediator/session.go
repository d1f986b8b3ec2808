package mediator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one in-progress or completed authentication handshake, per
// spec §3 "Session". SessionID rolls to a fresh uuid on every new
// challenge; ChallengeRequestedAt bounds how long a challenge stays
// answerable before it must be re-fetched.
type Session struct {
	ID                    string
	DID                   string
	Challenge             string
	State                 string // "challenge_fetched", "authenticated", "refreshing", "expired"
	ChallengeRequestedAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// NewSessionID mints a fresh session id, grounded on the teacher's
// already-direct github.com/google/uuid dependency.
func NewSessionID() string {
	return uuid.NewString()
}

// SessionStore manages in-flight sessions, keyed by session id.
type SessionStore interface {
	Get(id string) (Session, bool)
	Put(s Session)
	Remove(id string)
}

// MemorySessions is an in-memory SessionStore.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessions builds an empty MemorySessions.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]Session)}
}

func (s *MemorySessions) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.sessions[id]
	return v, ok
}

func (s *MemorySessions) Put(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *MemorySessions) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}
