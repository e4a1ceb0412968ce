package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Manager maps browser session ids to sessions, restoring persisted tokens on first use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	store    TokenStore
	logger   logger.Logger
	now      func() time.Time
}

func NewManager(store TokenStore, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[string]*entry),
		store:    store,
		logger:   log,
		now:      time.Now,
	}
}

// NewID returns a fresh session id for the session cookie.
func (m *Manager) NewID() string {
	return uuid.NewString()
}

// Get returns the session for id, creating it if needed. A failed restore is
// retried on the next call.
func (m *Manager) Get(ctx context.Context, id string) *Session {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		e = &entry{session: New(id, m.store, m.logger)}
		m.sessions[id] = e
	}
	e.lastSeen = m.now()
	m.mu.Unlock()

	if err := e.session.ensureRestored(ctx); err != nil {
		m.logger.Warn("Failed to restore session",
			logger.String("sessionId", id),
			logger.Error(err),
		)
	}
	return e.session
}

// Credential returns the access token of a signed-in session after checking
// it against the store, so a sign-out in another process is honoured.
func (m *Manager) Credential(ctx context.Context, id string) (models.SessionToken, error) {
	s := m.Get(ctx, id)
	if err := s.Sync(ctx); err != nil {
		m.logger.Error("Failed to verify session token",
			logger.String("sessionId", id),
			logger.Error(err),
		)
		return models.SessionToken{}, err
	}
	return s.Credential()
}

// Sweep forgets sessions not used for idle and returns how many were removed.
// Persisted tokens stay in the store and are restored on the next request.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			e.session.Close()
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every expiry timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.sessions {
		e.session.Close()
	}
}
