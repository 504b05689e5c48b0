package auth

import (
	"sync"
	"time"

	"github.com/zkchat/zkauth/curve"
)

// State is the position of a login attempt in the protocol.
type State int

const (
	StateCreated State = iota
	StateChallengeIssued
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateChallengeIssued:
		return "challenge_issued"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AuthSession is the server-side state of one login attempt. PublicKey and
// Salt are copied from the account when the session starts and never
// re-read.
type AuthSession struct {
	ID             string
	Username       string
	PublicKey      *curve.Point
	Salt           []byte
	Challenge      *curve.Scalar
	State          State
	Authenticated  bool
	Failures       int
	CreatedAt      time.Time
	ExpiresAt      time.Time // zero means no absolute expiry
	LastAccessedAt time.Time
}

// SessionStore abstracts session storage.
type SessionStore interface {
	// Get retrieves a session by ID. Returns false if the session does not
	// exist, has expired, or has exceeded the idle timeout.
	Get(id string) (AuthSession, bool)
	// Put creates or updates a session.
	Put(id string, session AuthSession)
	// Delete removes a session.
	Delete(id string)
	// Sweep removes every expired session and returns how many it removed.
	Sweep() int
}

// ExpiryFunc is called with each session a store discards for age.
type ExpiryFunc func(AuthSession)

// MemorySessionStore is a thread-safe in-memory SessionStore.
// Sessions are lost on server restart.
type MemorySessionStore struct {
	mu          sync.RWMutex
	data        map[string]AuthSession
	idleTimeout time.Duration
	onExpire    ExpiryFunc
	now         func() time.Time
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an in-memory session store.
// idleTimeout applies to sessions that are not yet authenticated; 0
// disables it.
func NewMemorySessionStore(idleTimeout time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		data:        make(map[string]AuthSession),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// OnExpire registers fn to run after a session is discarded for age. It is
// called without the store lock held.
func (s *MemorySessionStore) OnExpire(fn ExpiryFunc) {
	s.mu.Lock()
	s.onExpire = fn
	s.mu.Unlock()
}

func (s *MemorySessionStore) expired(session AuthSession, now time.Time) bool {
	if !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt) {
		return true
	}
	// Idle timeout covers login attempts only; an authenticated session
	// has nothing left to do and lives until ExpiresAt or logout.
	if session.Authenticated {
		return false
	}
	return s.idleTimeout > 0 && now.Sub(session.LastAccessedAt) > s.idleTimeout
}

func (s *MemorySessionStore) Get(id string) (AuthSession, bool) {
	s.mu.RLock()
	session, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return AuthSession{}, false
	}
	if s.expired(session, s.now()) {
		s.expire(id)
		return AuthSession{}, false
	}
	return session, true
}

func (s *MemorySessionStore) Put(id string, session AuthSession) {
	s.mu.Lock()
	s.data[id] = session
	s.mu.Unlock()
}

func (s *MemorySessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

func (s *MemorySessionStore) Sweep() int {
	now := s.now()
	s.mu.RLock()
	var ids []string
	for id, session := range s.data {
		if s.expired(session, now) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		if s.expire(id) {
			removed++
		}
	}
	return removed
}

// expire deletes id if it is still expired and fires the hook.
func (s *MemorySessionStore) expire(id string) bool {
	s.mu.Lock()
	session, ok := s.data[id]
	if !ok || !s.expired(session, s.now()) {
		s.mu.Unlock()
		return false
	}
	delete(s.data, id)
	fn := s.onExpire
	s.mu.Unlock()

	if fn != nil {
		fn(session)
	}
	return true
}

// Len reports the number of stored sessions, expired or not.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
