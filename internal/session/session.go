// Package session owns the conversation's session identifier: created lazily
// on first use, persisted through a Store, destroyed by Reset.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Store persists the session id between runs.
type Store interface {
	// LoadSessionID returns "" when no session exists.
	LoadSessionID() (string, error)
	SaveSessionID(id string) error
	ClearSessionID() error
}

// Resetter drops server-side conversation state for a session.
type Resetter interface {
	ResetConversation(ctx context.Context, sessionID string) error
}

// Manager hands out the current session id. There is at most one active
// session at a time.
type Manager struct {
	mu       sync.Mutex
	store    Store
	backend  Resetter
	logger   *slog.Logger
	newID    func() string
	cachedID string
}

// NewManager creates a Manager. A nil logger falls back to slog.Default().
func NewManager(store Store, backend Resetter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		backend: backend,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// GetOrCreate returns the existing session id, creating and persisting a new
// one if none exists. A failure to persist is logged and the id is still used
// for the lifetime of the process.
func (m *Manager) GetOrCreate() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cachedID != "" {
		return m.cachedID
	}

	id, err := m.store.LoadSessionID()
	if err != nil {
		m.logger.Warn("loading session id", "error", err)
	}
	if id == "" {
		id = m.newID()
		if err := m.store.SaveSessionID(id); err != nil {
			m.logger.Warn("persisting session id", "error", err)
		}
		m.logger.Debug("session created", "session_id", id)
	}
	m.cachedID = id
	return id
}

// Current returns the session id without creating one.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cachedID != "" {
		return m.cachedID
	}
	id, err := m.store.LoadSessionID()
	if err != nil {
		m.logger.Warn("loading session id", "error", err)
		return ""
	}
	m.cachedID = id
	return id
}

// Reset tells the backend to forget the session and then clears the id
// regardless of whether the backend call succeeded. It reports whether a
// session existed. The returned error is only about clearing local state.
func (m *Manager) Reset(ctx context.Context) (bool, error) {
	id := m.Current()
	if id == "" {
		return false, nil
	}

	if err := m.backend.ResetConversation(ctx, id); err != nil {
		m.logger.Warn("resetting backend conversation", "session_id", id, "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cachedID = ""
	if err := m.store.ClearSessionID(); err != nil {
		return true, fmt.Errorf("clearing session id: %w", err)
	}
	return true, nil
}

// MemoryStore is a Store that keeps the id in memory only.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

func (s *MemoryStore) LoadSessionID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *MemoryStore) SaveSessionID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

func (s *MemoryStore) ClearSessionID() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	return nil
}
