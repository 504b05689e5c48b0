package api

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/zkchat/zkauth/internal/uuid"
	"github.com/zkchat/zkauth/storage"
	"github.com/zkchat/zkauth/storage/memory"
)

const (
	auditNamespace  = "__audit"
	auditRecordType = "AUDIT"
)

// AuditEntry is one persisted audit record.
type AuditEntry struct {
	ID         string     `json:"id"`
	Event      AuditEvent `json:"event"`
	Username   string     `json:"username"`
	SessionID  string     `json:"session_id,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	RemoteAddr string     `json:"remote_addr,omitempty"`
	CreatedAt  string     `json:"created_at"`
}

func (e AuditEntry) createdAt() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, e.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// auditTrail appends audit entries to a repository as plain-json envelopes.
// With retention configured, each append prunes entries older than maxAge
// and the oldest entries beyond maxEntries. Zero disables either limit.
type auditTrail struct {
	mu         sync.Mutex
	repo       storage.Repository
	maxAge     time.Duration
	maxEntries int
	now        func() time.Time
}

func newAuditTrail(repo storage.Repository, maxAge time.Duration, maxEntries int) *auditTrail {
	if repo == nil {
		repo = memory.NewRepository()
	}
	return &auditTrail{repo: repo, maxAge: maxAge, maxEntries: maxEntries, now: time.Now}
}

func (t *auditTrail) append(entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New()
	}
	env, err := storage.SealJSON(entry)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.repo.Put(auditNamespace, auditRecordType, entry.ID, env); err != nil {
		return err
	}
	if t.maxAge > 0 || t.maxEntries > 0 {
		return t.pruneLocked()
	}
	return nil
}

func (t *auditTrail) pruneLocked() error {
	entries, err := t.list("")
	if err != nil {
		return err
	}
	// entries are newest first.
	cutoff := time.Time{}
	if t.maxAge > 0 {
		cutoff = t.now().Add(-t.maxAge)
	}
	for i, e := range entries {
		expired := !cutoff.IsZero() && e.createdAt().Before(cutoff)
		if expired || (t.maxEntries > 0 && i >= t.maxEntries) {
			if err := t.repo.Delete(auditNamespace, auditRecordType, e.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
	}
	return nil
}

// list returns username's entries, newest first. An empty username lists
// everything.
func (t *auditTrail) list(username string) ([]AuditEntry, error) {
	ids, err := t.repo.List(auditNamespace, auditRecordType)
	if err != nil {
		if errors.Is(err, storage.ErrNamespaceNotFound) {
			return []AuditEntry{}, nil
		}
		return nil, err
	}
	entries := make([]AuditEntry, 0, len(ids))
	for _, id := range ids {
		env, err := t.repo.Get(auditNamespace, auditRecordType, id)
		if err != nil || env == nil {
			continue
		}
		var entry AuditEntry
		if err := storage.OpenJSON(env, &entry); err != nil {
			continue
		}
		if username != "" && entry.Username != username {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].createdAt().After(entries[j].createdAt())
	})
	return entries, nil
}
