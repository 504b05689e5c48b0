package auth

import (
	"sort"
	"sync"
)

// OnlineUser maps an authenticated username to the session that logged it in.
type OnlineUser struct {
	Username  string `json:"username"`
	SessionID string `json:"session_id"`
}

// OnlineUsers is the username → session ID table populated by successful
// proofs. It is the only state the relay reads.
type OnlineUsers struct {
	mu     sync.RWMutex
	byUser map[string]string
}

func NewOnlineUsers() *OnlineUsers {
	return &OnlineUsers{byUser: make(map[string]string)}
}

func (o *OnlineUsers) set(username, sessionID string) {
	o.mu.Lock()
	o.byUser[username] = sessionID
	o.mu.Unlock()
}

// removeIf drops username only while it still points at sessionID, so a
// stale session cannot evict a newer login.
func (o *OnlineUsers) removeIf(username, sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byUser[username] != sessionID {
		return false
	}
	delete(o.byUser, username)
	return true
}

// Lookup returns the session ID a user is online with.
func (o *OnlineUsers) Lookup(username string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.byUser[username]
	return id, ok
}

// List returns a snapshot sorted by username.
func (o *OnlineUsers) List() []OnlineUser {
	o.mu.RLock()
	users := make([]OnlineUser, 0, len(o.byUser))
	for name, id := range o.byUser {
		users = append(users, OnlineUser{Username: name, SessionID: id})
	}
	o.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

func (o *OnlineUsers) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.byUser)
}
