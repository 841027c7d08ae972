// Package store persists the route state of search sessions so a session
// can be restored after eviction or on another replica.
package store

import (
	"context"
	"net/url"
	"sync"
	"time"

	apperrors "github.com/k-yomo/kagu-miru/pkg/errors"
)

// Snapshot is the persisted form of a session: the full route state,
// searchFrom included.
type Snapshot struct {
	SessionID string    `json:"sessionId"`
	Query     string    `json:"query"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Values decodes the stored route state. A corrupt query yields the
// values that could be parsed.
func (s Snapshot) Values() url.Values {
	values, _ := url.ParseQuery(s.Query)
	return values
}

// SessionStore saves and loads session snapshots. Load returns an error
// wrapping apperrors.ErrNotFound for unknown or expired sessions.
type SessionStore interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

// Memory is an in-process SessionStore with per-entry expiry.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	snapshot  Snapshot
	expiresAt time.Time
}

// NewMemory creates a store whose entries expire ttl after their last save.
// A non-positive ttl keeps entries forever.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Save implements SessionStore.
func (m *Memory) Save(_ context.Context, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = m.now().Add(m.ttl)
	}
	m.entries[snapshot.SessionID] = memoryEntry{snapshot: *snapshot, expiresAt: expiresAt}
	return nil
}

// Load implements SessionStore.
func (m *Memory) Load(_ context.Context, sessionID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sessionID]
	if ok && !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, sessionID)
		ok = false
	}
	if !ok {
		return nil, apperrors.NotFound("session", sessionID)
	}
	snapshot := entry.snapshot
	return &snapshot, nil
}

// Delete implements SessionStore.
func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}
