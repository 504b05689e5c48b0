package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zkchat/zkauth/curve"
	"github.com/zkchat/zkauth/internal/util"
)

const (
	sessionIDBytes = 8

	// DefaultSessionTTL bounds how long a login attempt may stay open.
	DefaultSessionTTL = 15 * time.Minute
	// DefaultSessionIdleTimeout expires login attempts nobody touches.
	DefaultSessionIdleTimeout = 5 * time.Minute
	// DefaultAuthenticatedTTL is how long an authenticated session stays
	// online. It matches DefaultTokenTTL.
	DefaultAuthenticatedTTL = DefaultTokenTTL
)

// LoginTicket is what BeginLogin hands back to the client.
type LoginTicket struct {
	SessionID string
	Salt      []byte
}

// SessionStatus is the public view of a session.
type SessionStatus struct {
	ID            string
	Username      string
	State         State
	Authenticated bool
	Failures      int
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// SessionManager drives login sessions through
// created → challenge_issued → authenticated/failed.
// Every transition runs under one mutex; the checks involved are
// scalar multiplications, not KDF runs.
type SessionManager struct {
	accounts *CredentialStore
	store    SessionStore
	online   *OnlineUsers
	ttl      time.Duration
	authTTL  time.Duration
	now      func() time.Time

	mu sync.Mutex

	// observer is read from the store's expiry path, which can run while
	// mu is held, so it has its own lock.
	observerMu sync.RWMutex
	observer   ExpiryFunc
}

// ManagerOption configures a SessionManager.
type ManagerOption func(*SessionManager)

// WithSessionTTL sets the absolute lifetime of a login attempt. Zero
// disables it.
func WithSessionTTL(d time.Duration) ManagerOption {
	return func(m *SessionManager) {
		m.ttl = d
	}
}

// WithAuthenticatedTTL sets how long a session stays valid after a
// successful proof, counted from that proof. Zero keeps it until logout.
func WithAuthenticatedTTL(d time.Duration) ManagerOption {
	return func(m *SessionManager) {
		m.authTTL = d
	}
}

// WithSessionStore replaces the default in-memory store.
func WithSessionStore(s SessionStore) ManagerOption {
	return func(m *SessionManager) {
		m.store = s
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// NewSessionManager creates a manager backed by accounts.
func NewSessionManager(accounts *CredentialStore, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		accounts: accounts,
		online:   NewOnlineUsers(),
		ttl:      DefaultSessionTTL,
		authTTL:  DefaultAuthenticatedTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemorySessionStore(DefaultSessionIdleTimeout)
	}
	if ms, ok := m.store.(*MemorySessionStore); ok {
		ms.OnExpire(m.onExpire)
	}
	return m
}

func (m *SessionManager) onExpire(s AuthSession) {
	if s.Authenticated {
		m.online.removeIf(s.Username, s.ID)
	}
	m.observerMu.RLock()
	fn := m.observer
	m.observerMu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

// OnExpire registers fn to be told about every session discarded for age.
// fn must not call back into the manager.
func (m *SessionManager) OnExpire(fn ExpiryFunc) {
	m.observerMu.Lock()
	m.observer = fn
	m.observerMu.Unlock()
}

// BeginLogin opens a session for username and returns its ID and the
// account salt. The public key and salt are snapshotted into the session.
func (m *SessionManager) BeginLogin(ctx context.Context, username string) (LoginTicket, error) {
	if err := ValidateUsername(username); err != nil {
		return LoginTicket{}, err
	}
	acct, err := m.accounts.Lookup(ctx, username)
	if err != nil {
		return LoginTicket{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var id string
	for {
		id, err = util.RandomHex(sessionIDBytes)
		if err != nil {
			return LoginTicket{}, fmt.Errorf("generating session id: %w", err)
		}
		if _, taken := m.store.Get(id); !taken {
			break
		}
	}

	now := m.now()
	s := AuthSession{
		ID:             id,
		Username:       acct.Username,
		PublicKey:      acct.PublicKey,
		Salt:           util.CopyBytes(acct.Salt),
		State:          StateCreated,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if m.ttl > 0 {
		s.ExpiresAt = now.Add(m.ttl)
	}
	m.store.Put(id, s)
	return LoginTicket{SessionID: id, Salt: util.CopyBytes(acct.Salt)}, nil
}

// IssueChallenge draws a fresh uniform challenge for the session,
// replacing any earlier one.
func (m *SessionManager) IssueChallenge(ctx context.Context, sessionID string) (*curve.Scalar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := curve.RandomScalar()
	if err != nil {
		return nil, fmt.Errorf("sampling challenge: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrUnknownSession
	}
	if s.Authenticated {
		return nil, ErrAlreadyAuthenticated
	}
	s.Challenge = e
	s.State = StateChallengeIssued
	s.LastAccessedAt = m.now()
	m.store.Put(sessionID, s)
	return e, nil
}

// VerifyProof checks proof against the session's current challenge and
// public key. On success the session is authenticated, its challenge is
// consumed and the user goes online; on failure the session is marked
// failed and keeps its challenge. An authenticated session accepts no
// further proofs (ErrAlreadyAuthenticated) and stays authenticated.
func (m *SessionManager) VerifyProof(ctx context.Context, sessionID string, proof Proof) error {
	return m.verify(ctx, sessionID, func() (Proof, error) { return proof, nil })
}

// VerifyEncodedProof is VerifyProof for hex-encoded R and s. Decoding
// happens after the session checks, so an unknown session or missing
// challenge is reported ahead of a malformed proof.
func (m *SessionManager) VerifyEncodedProof(ctx context.Context, sessionID, commitmentHex, responseHex string) error {
	return m.verify(ctx, sessionID, func() (Proof, error) {
		return ParseProof(commitmentHex, responseHex)
	})
}

func (m *SessionManager) verify(ctx context.Context, sessionID string, decode func() (Proof, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	// The challenge is spent once a proof succeeds; accepting another
	// proof here would let a captured (R, s) be replayed.
	if s.Authenticated {
		return ErrAlreadyAuthenticated
	}
	if s.Challenge == nil {
		return ErrNoChallengeIssued
	}
	now := m.now()
	s.LastAccessedAt = now

	proof, err := decode()
	if err == nil {
		err = Verify(s.PublicKey, s.Challenge, proof)
	}
	if err != nil {
		s.State = StateFailed
		s.Failures++
		m.store.Put(sessionID, s)
		return err
	}

	s.Authenticated = true
	s.State = StateAuthenticated
	s.Challenge = nil
	s.ExpiresAt = time.Time{}
	if m.authTTL > 0 {
		s.ExpiresAt = now.Add(m.authTTL)
	}
	m.store.Put(sessionID, s)
	m.online.set(s.Username, s.ID)
	return nil
}

// Session reports the status of a live session.
func (m *SessionManager) Session(sessionID string) (SessionStatus, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return SessionStatus{}, ErrUnknownSession
	}
	return SessionStatus{
		ID:            s.ID,
		Username:      s.Username,
		State:         s.State,
		Authenticated: s.Authenticated,
		Failures:      s.Failures,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
	}, nil
}

// Logout ends a session and takes its user offline if that session is the
// one they are online with. It returns the session's username.
func (m *SessionManager) Logout(sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Get(sessionID)
	if !ok {
		return "", ErrUnknownSession
	}
	m.store.Delete(sessionID)
	m.online.removeIf(s.Username, s.ID)
	return s.Username, nil
}

// OnlineUsers returns the username → session ID table.
func (m *SessionManager) OnlineUsers() *OnlineUsers {
	return m.online
}

// Sweep discards expired sessions and returns how many were removed.
func (m *SessionManager) Sweep() int {
	return m.store.Sweep()
}
