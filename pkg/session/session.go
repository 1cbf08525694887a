package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guardline/promptsentry/pkg/bus"
	"github.com/guardline/promptsentry/pkg/event"
)

// Session tracks one conversation's lifecycle.
type Session struct {
	ID        string
	CreatedAt time.Time
	LastSeen  time.Time
	Prompts   int
}

// Store is what the preprocessing pipeline needs from session storage.
// Get must report presence honestly; Remove reports whether the session
// existed.
type Store interface {
	Get(id string) (*Session, bool)
	Remove(id string) bool
}

// Manager is an in-memory Store. Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	eventBus bus.EventBus
}

// NewManager creates a session manager. The bus is optional; when set, a
// SessionTerminatedEvent is published for every removal.
func NewManager(eventBus bus.EventBus) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		eventBus: eventBus,
	}
}

// Create registers a session, replacing any existing one with the same id.
func (m *Manager) Create(id string) *Session {
	now := time.Now()
	s := &Session{ID: id, CreatedAt: now, LastSeen: now}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	logrus.WithField("sid", id).Trace("Session created")
	return s
}

// Get returns the session and whether it exists.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	return s, ok
}

// Touch bumps LastSeen and the prompt counter for an existing session.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.LastSeen = time.Now()
		s.Prompts++
	}
}

// Remove deletes the session and reports whether it existed.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		logrus.WithField("sid", id).Debug("Session removed")
		if m.eventBus != nil {
			m.eventBus.Publish(&event.SessionTerminatedEvent{
				Timestamp: time.Now(),
				SessionID: id,
				Reason:    "terminated",
			})
		}
	}
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
