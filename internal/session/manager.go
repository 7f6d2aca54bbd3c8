package session

import (
	"sync"
	"time"
)

// Manager serializes work per user. A user's inbound messages and any late
// quote delivery for that user never interleave; different users run in
// parallel.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*userLock
	now   func() time.Time
}

type userLock struct {
	mu       sync.Mutex
	lastUsed time.Time
	holders  int
}

func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]*userLock),
		now:   time.Now,
	}
}

// WithLock executes fn while holding the user's mutex.
func (m *Manager) WithLock(userID string, fn func() error) error {
	m.mu.Lock()
	ul, ok := m.locks[userID]
	if !ok {
		ul = &userLock{}
		m.locks[userID] = ul
	}
	ul.holders++
	m.mu.Unlock()

	ul.mu.Lock()
	defer func() {
		ul.mu.Unlock()
		m.mu.Lock()
		ul.holders--
		ul.lastUsed = m.now()
		m.mu.Unlock()
	}()

	return fn()
}

// Cleanup removes locks idle for longer than maxAge and returns how many
// were dropped. Locks held or awaited are kept.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for userID, ul := range m.locks {
		if ul.holders == 0 && now.Sub(ul.lastUsed) > maxAge {
			delete(m.locks, userID)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked locks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
