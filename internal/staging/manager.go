package staging

import (
	"sync"
	"time"
)

type entry struct {
	list     *List
	lastSeen time.Time
}

// Manager holds one List per browser session.
type Manager struct {
	mu    sync.Mutex
	lists map[string]*entry
	opts  Options
	now   func() time.Time
}

func NewManager(opts Options) *Manager {
	return &Manager{
		lists: make(map[string]*entry),
		opts:  opts.withDefaults(),
		now:   time.Now,
	}
}

// Get returns the session's list, creating an empty one on first use.
func (m *Manager) Get(sessionID string) *List {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lists[sessionID]
	if !ok {
		e = &entry{list: NewList(m.opts)}
		m.lists[sessionID] = e
	}
	e.lastSeen = m.now()
	return e.list
}

// MaxUploadBytes is the largest total file size a full list can hold.
func (m *Manager) MaxUploadBytes() int64 {
	return int64(m.opts.MaxFiles) * m.opts.Validator.MaxFileSize()
}

// Drop forgets the session's list.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, sessionID)
}

// Sweep drops lists not touched for idle, staged files included.
func (m *Manager) Sweep(idle time.Duration) int {
	cutoff := m.now().Add(-idle)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.lists {
		if e.lastSeen.Before(cutoff) {
			delete(m.lists, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists)
}
